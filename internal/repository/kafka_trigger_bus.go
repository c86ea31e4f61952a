package repository

import (
	"context"
	"fmt"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	pkgkafka "TriggerHub/pkg/kafka"
	applogger "TriggerHub/pkg/logger"
)

// KafkaTriggerBus implements TriggerBus over the Kafka producer.
// Deliveries are keyed by condition_id so all triggers of one condition
// land in one partition and consumers see them in order.
type KafkaTriggerBus struct {
	producer *pkgkafka.Producer
	topic    string
	dlqTopic string
	l        *applogger.Logger
}

func NewKafkaTriggerBus(producer *pkgkafka.Producer, topic, dlqTopic string, l *applogger.Logger) *KafkaTriggerBus {
	return &KafkaTriggerBus{
		producer: producer,
		topic:    topic,
		dlqTopic: dlqTopic,
		l:        l,
	}
}

func (b *KafkaTriggerBus) Publish(ctx context.Context, d *models.Delivery) error {
	if err := b.producer.Publish(ctx, b.topic, []byte(d.Event.ConditionID), d); err != nil {
		return fmt.Errorf("publish delivery %s: %w", d.IdempotencyKey(), err)
	}
	return nil
}

func (b *KafkaTriggerBus) PublishDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	if err := b.producer.Publish(ctx, b.dlqTopic, []byte(dl.Delivery.Event.ConditionID), dl); err != nil {
		return fmt.Errorf("publish dead letter %s: %w", dl.Delivery.IdempotencyKey(), err)
	}
	b.l.Warn("dead letter written",
		applogger.String("subscription_id", dl.Delivery.SubscriptionID),
		applogger.String("event_id", dl.Delivery.Event.EventID),
		applogger.String("topic", b.dlqTopic))
	return nil
}

func (b *KafkaTriggerBus) Close() error {
	return b.producer.Close()
}

var _ domrepo.TriggerBus = (*KafkaTriggerBus)(nil)
