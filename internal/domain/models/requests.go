package models

import "encoding/json"

// SubscribeRequest is the POST /api/subscriptions body.
type SubscribeRequest struct {
	ConditionID string          `json:"condition_id" validate:"required"`
	BotType     string          `json:"bot_type" validate:"required,oneof=dca grid alert manual"`
	Config      json.RawMessage `json:"bot_config,omitempty"`
}

// EventsRequest is the GET /api/events query.
type EventsRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	From   string `query:"from"`
	To     string `query:"to"`
	Limit  int    `query:"limit" default:"100" validate:"gte=0,lte=1000"`
}
