package models

import (
	"encoding/json"
	"time"
)

// BotType is the closed set of subscriber kinds known to the engine.
type BotType string

const (
	BotDCA    BotType = "dca"
	BotGrid   BotType = "grid"
	BotAlert  BotType = "alert"
	BotManual BotType = "manual"
)

func (t BotType) Valid() bool {
	switch t {
	case BotDCA, BotGrid, BotAlert, BotManual:
		return true
	}
	return false
}

// BotAction is the typed action a subscriber performs on a trigger.
// The engine never interprets it; it rides in the delivery payload for the
// external bot-action handler.
type BotAction string

const (
	ActionEnterPosition BotAction = "enter_position"
	ActionPlaceDCAOrder BotAction = "place_dca_order"
	ActionNotify        BotAction = "notify"
)

// Subscription ties a bot to a condition. Owned exclusively by the creating
// bot; soft-deactivated on unsubscribe, never hard-deleted.
type Subscription struct {
	ID            string          `json:"subscription_id"`
	BotID         string          `json:"bot_id"`
	BotType       BotType         `json:"bot_type"`
	ConditionID   string          `json:"condition_id"`
	Config        json.RawMessage `json:"bot_config,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	DeactivatedAt *time.Time      `json:"deactivated_at,omitempty"`
}
