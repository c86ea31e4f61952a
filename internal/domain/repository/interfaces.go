package repository

import (
	"context"
	"time"

	"TriggerHub/internal/domain/models"
)

// ConditionStore persists conditions. Append plus soft-delete flags only;
// history is never physically removed.
type ConditionStore interface {
	Insert(ctx context.Context, c *models.Condition) error
	Get(ctx context.Context, id string) (*models.Condition, error)
	ListActive(ctx context.Context) ([]*models.Condition, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	SetFlagged(ctx context.Context, id string, reason string) error
	Count(ctx context.Context) (int64, error)
}

// SubscriptionStore persists subscriptions with soft-deactivation.
type SubscriptionStore interface {
	Insert(ctx context.Context, s *models.Subscription) error
	Get(ctx context.Context, id string) (*models.Subscription, error)
	ListByBot(ctx context.Context, botID string) ([]*models.Subscription, error)
	ListActiveByCondition(ctx context.Context, conditionID string) ([]*models.Subscription, error)
	CountActiveByCondition(ctx context.Context, conditionID string) (int, error)
	Deactivate(ctx context.Context, id string, at time.Time) error
	CountActive(ctx context.Context) (int64, error)
	// LastDeactivationFor reports when the condition last dropped to zero
	// active subscribers; zero time if it never had any.
	LastDeactivationFor(ctx context.Context, conditionID string) (time.Time, error)
}

// EventStore is the append-only trigger event audit trail.
type EventStore interface {
	Append(ctx context.Context, ev *models.TriggerEvent) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.TriggerEvent, error)
}

// MarketFeed is the external market data collaborator. Treated as
// untrusted: gaps, delays and out-of-order candles must be tolerated.
type MarketFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Candles(ctx context.Context) (<-chan *models.Candle, <-chan error)
	Backfill(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Candle, error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// TriggerBus carries per-subscription deliveries to external consumers.
type TriggerBus interface {
	Publish(ctx context.Context, d *models.Delivery) error
	PublishDeadLetter(ctx context.Context, dl *models.DeadLetter) error
	Close() error
}

// IdempotencyStore records that a delivery key has been handed off, once.
type IdempotencyStore interface {
	// MarkOnce returns true the first time key is seen within ttl.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Metrics is the engine's operational surface.
type Metrics interface {
	RecordTick(group string, seconds float64, evaluated int)
	RecordTrigger(symbol string)
	RecordError(kind string)
	RecordStaleSkip(group string)
	RecordDispatch(result string)
	RecordDeadLetter()
	RecordQueueDepth(n int)
	RecordOverflow()
	RecordLatency(op string, seconds float64)
}
