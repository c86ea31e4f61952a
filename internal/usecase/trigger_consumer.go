package usecase

import (
	"context"
	"encoding/json"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	pkgkafka "TriggerHub/pkg/kafka"
	applogger "TriggerHub/pkg/logger"
)

// TriggerConsumer is a reference bot-action handler for the trigger topic.
// Real bot runtimes consume the same topic out of process; this in-process
// consumer covers the alert bot type and doubles as a wiring example.
type TriggerConsumer struct {
	topic   string
	logger  *applogger.Logger
	metrics domrepo.Metrics
}

func NewTriggerConsumer(topic string, logger *applogger.Logger, metrics domrepo.Metrics) *TriggerConsumer {
	return &TriggerConsumer{topic: topic, logger: logger, metrics: metrics}
}

func (h *TriggerConsumer) Topic() string { return h.topic }

func (h *TriggerConsumer) Handle(ctx context.Context, b []byte) error {
	var d models.Delivery
	if err := json.Unmarshal(b, &d); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}

	h.metrics.RecordLatency("trigger_e2e", time.Since(d.Event.OccurredAt).Seconds())

	action := actionFor(d.BotType)
	h.logger.Info("trigger delivered",
		applogger.String("subscription_id", d.SubscriptionID),
		applogger.String("bot_id", d.BotID),
		applogger.String("bot_type", string(d.BotType)),
		applogger.String("action", string(action)),
		applogger.String("event_id", d.Event.EventID),
		applogger.String("symbol", d.Event.Symbol))
	return nil
}

func actionFor(t models.BotType) models.BotAction {
	switch t {
	case models.BotDCA:
		return models.ActionPlaceDCAOrder
	case models.BotGrid, models.BotManual:
		return models.ActionEnterPosition
	default:
		return models.ActionNotify
	}
}

var _ pkgkafka.MessageHandler = (*TriggerConsumer)(nil)
