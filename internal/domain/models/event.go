package models

import "time"

// TriggerEvent is emitted exactly once per qualifying false→true transition.
// Immutable; delivered at-least-once per subscription, idempotent on
// (subscription_id, event_id).
type TriggerEvent struct {
	EventID         string             `json:"event_id"`
	ConditionID     string             `json:"condition_id"`
	SubscriptionIDs []string           `json:"subscription_ids"`
	Symbol          string             `json:"symbol"`
	Timeframe       string             `json:"timeframe"`
	Snapshot        map[string]float64 `json:"snapshot"`
	OccurredAt      time.Time          `json:"occurred_at"`
}

// Delivery is one per-subscription emission of a TriggerEvent.
type Delivery struct {
	SubscriptionID string       `json:"subscription_id"`
	BotID          string       `json:"bot_id"`
	BotType        BotType      `json:"bot_type"`
	Event          TriggerEvent `json:"event"`
	Attempt        int          `json:"attempt"`
}

// IdempotencyKey is the downstream dedup key for a delivery.
func (d *Delivery) IdempotencyKey() string {
	return d.SubscriptionID + ":" + d.Event.EventID
}

// DeadLetter wraps a delivery that exhausted its retry budget, with enough
// context for later inspection and replay.
type DeadLetter struct {
	Delivery   Delivery  `json:"delivery"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	FailedAt   time.Time `json:"failed_at"`
	SourceNode string    `json:"source_node,omitempty"`
}
