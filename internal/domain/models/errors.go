package models

import "errors"

// Domain error taxonomy. Registration/subscription paths surface these to
// the caller synchronously; evaluation/dispatch paths only log and count.
var (
	ErrValidation      = errors.New("invalid condition spec")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("duplicate active subscription")
	ErrForbidden       = errors.New("subscription not owned by caller")
	ErrDataUnavailable = errors.New("market data unavailable")
	ErrStale           = errors.New("indicator data stale")
	ErrNotReady        = errors.New("indicator not ready")
	ErrUnsupported     = errors.New("unsupported condition kind")
	ErrHashCollision   = errors.New("canonical id collision")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
