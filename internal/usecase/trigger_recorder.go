package usecase

import (
	"context"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	applogger "TriggerHub/pkg/logger"
)

// TriggerRecorder sits between the evaluator and the dispatcher: every
// trigger event is appended to the audit trail, then handed to dispatch.
// A failed audit write never blocks delivery.
type TriggerRecorder struct {
	events  domrepo.EventStore
	next    TriggerSink
	logger  *applogger.Logger
	metrics domrepo.Metrics
}

// TriggerSink matches the evaluator's sink contract.
type TriggerSink interface {
	Publish(ctx context.Context, ev *models.TriggerEvent) error
}

func NewTriggerRecorder(events domrepo.EventStore, next TriggerSink, logger *applogger.Logger, metrics domrepo.Metrics) *TriggerRecorder {
	return &TriggerRecorder{events: events, next: next, logger: logger, metrics: metrics}
}

func (r *TriggerRecorder) Publish(ctx context.Context, ev *models.TriggerEvent) error {
	// Dispatch first so the audit row carries the resolved subscription
	// ids the dispatcher filled in.
	err := r.next.Publish(ctx, ev)

	if aerr := r.events.Append(ctx, ev); aerr != nil {
		r.metrics.RecordError("event_audit")
		r.logger.Error("trigger event audit write failed",
			applogger.String("event_id", ev.EventID), applogger.Error(aerr))
	}
	return err
}
