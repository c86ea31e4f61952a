// Package indicator maintains rolling technical indicator state per
// (symbol, timeframe, kind, params). Updates are O(1) amortized per closed
// candle; full recomputes happen only on cold start and after out-of-order
// candles invalidate an entry.
package indicator

import "TriggerHub/internal/domain/models"

// Indicator is one incremental indicator instance.
type Indicator interface {
	// Name returns the indicator name (e.g. "rsi_14").
	Name() string

	// Update feeds a new closed candle and recalculates.
	Update(c models.Candle)

	// Value returns the current value. Zero until Ready.
	Value() float64

	// Ready reports whether enough data has been accumulated.
	Ready() bool

	// Snapshot serializes internal state for checkpoint persistence.
	Snapshot() Snapshot

	// Restore rehydrates internal state from a checkpoint.
	Restore(s Snapshot) error
}

// New constructs an indicator for a canonical kind and period.
// Unknown kinds return nil; callers must treat that as unsupported, not
// fall back to a default.
func New(kind models.IndicatorKind, period int) Indicator {
	switch kind {
	case models.IndicatorSMA:
		return NewSMA(period)
	case models.IndicatorEMA:
		return NewEMA(period)
	case models.IndicatorRSI:
		return NewRSI(period)
	case models.IndicatorATR:
		return NewATR(period)
	case models.IndicatorPrice:
		return NewClosePrice()
	default:
		return nil
	}
}
