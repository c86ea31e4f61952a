package models

import "time"

// Kind discriminates a single predicate from an ordered playbook.
type Kind string

const (
	KindSingle   Kind = "single"
	KindPlaybook Kind = "playbook"
)

// IndicatorKind is the closed set of indicator sources a condition may reference.
type IndicatorKind string

const (
	IndicatorRSI   IndicatorKind = "rsi"
	IndicatorSMA   IndicatorKind = "sma"
	IndicatorEMA   IndicatorKind = "ema"
	IndicatorATR   IndicatorKind = "atr"
	IndicatorPrice IndicatorKind = "price"
)

// Operator is the closed set of comparison operators.
type Operator string

const (
	OpLT         Operator = "lt"
	OpLTE        Operator = "lte"
	OpGT         Operator = "gt"
	OpGTE        Operator = "gte"
	OpCrossAbove Operator = "cross_above"
	OpCrossBelow Operator = "cross_below"
)

// GateLogic combines playbook sub-conditions.
type GateLogic string

const (
	GateAll GateLogic = "ALL"
	GateAny GateLogic = "ANY"
)

// ValidityUnit names the clock a playbook leg's hot window is measured on.
// Bars are counted on the leg's own timeframe, never a global base timeframe.
type ValidityUnit string

const (
	UnitBars    ValidityUnit = "bars"
	UnitSeconds ValidityUnit = "seconds"
)

// RawConditionSpec is the permissive wire schema accepted at registration.
// Synonymous fields (type/conditionType, tf/interval) are folded by the
// normalizer; optional fields get documented defaults.
type RawConditionSpec struct {
	Kind          string `json:"kind,omitempty"`
	Type          string `json:"type,omitempty"`
	ConditionType string `json:"conditionType,omitempty"`

	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe,omitempty"`
	TF        string `json:"tf,omitempty"`
	Interval  string `json:"interval,omitempty"`

	Indicator        string   `json:"indicator,omitempty"`
	Period           *int     `json:"period,omitempty"`
	Operator         string   `json:"operator,omitempty"`
	Value            *float64 `json:"value,omitempty"`
	CompareIndicator string   `json:"compare_indicator,omitempty"`
	ComparePeriod    *int     `json:"compare_period,omitempty"`

	Gate string   `json:"gate_logic,omitempty"`
	Legs []RawLeg `json:"conditions,omitempty"`
}

// RawLeg is one playbook sub-condition as submitted.
type RawLeg struct {
	Timeframe string `json:"timeframe,omitempty"`
	TF        string `json:"tf,omitempty"`
	Interval  string `json:"interval,omitempty"`

	Indicator        string   `json:"indicator"`
	Period           *int     `json:"period,omitempty"`
	Operator         string   `json:"operator"`
	Value            *float64 `json:"value,omitempty"`
	CompareIndicator string   `json:"compare_indicator,omitempty"`
	ComparePeriod    *int     `json:"compare_period,omitempty"`

	Priority         int    `json:"priority"`
	ValidityDuration int    `json:"validity_duration"`
	ValidityUnit     string `json:"validity_unit"`
}

// SingleSpec is one canonical predicate over indicator data.
// When CompareIndicator is set the threshold Value is ignored and the
// operator compares two indicator series instead.
type SingleSpec struct {
	Indicator        IndicatorKind `json:"indicator"`
	Period           int           `json:"period"`
	Operator         Operator      `json:"operator"`
	Value            float64       `json:"value"`
	CompareIndicator IndicatorKind `json:"compare_indicator,omitempty"`
	ComparePeriod    int           `json:"compare_period,omitempty"`
}

// LegSpec is one canonical playbook sub-condition.
type LegSpec struct {
	Single           SingleSpec   `json:"single"`
	Timeframe        string       `json:"timeframe"`
	Priority         int          `json:"priority"`
	ValidityDuration int          `json:"validity_duration"`
	ValidityUnit     ValidityUnit `json:"validity_unit"`
}

// PlaybookSpec is an ordered composite of legs behind a gate.
type PlaybookSpec struct {
	Gate GateLogic `json:"gate"`
	Legs []LegSpec `json:"legs"`
}

// CanonicalSpec is the normalized, fully-defaulted form of a condition.
// Its serialization (see condition.CanonicalString) is the hash input.
type CanonicalSpec struct {
	Kind      Kind          `json:"kind"`
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	Single    *SingleSpec   `json:"single,omitempty"`
	Playbook  *PlaybookSpec `json:"playbook,omitempty"`
}

// Condition is immutable once created; identity is the canonical hash.
type Condition struct {
	ID            string        `json:"condition_id"`
	Symbol        string        `json:"symbol"`
	Timeframe     string        `json:"timeframe"`
	Kind          Kind          `json:"kind"`
	Spec          CanonicalSpec `json:"spec"`
	Active        bool          `json:"active"`
	Flagged       bool          `json:"flagged,omitempty"` // hash-collision review
	CreatedAt     time.Time     `json:"created_at"`
	DeactivatedAt *time.Time    `json:"deactivated_at,omitempty"`
}

// ConditionStatus is the public status view of a condition.
type ConditionStatus struct {
	ConditionID     string `json:"condition_id"`
	Active          bool   `json:"active"`
	SubscriberCount int    `json:"subscriber_count"`
}

// RegistryStats aggregates registry-wide counters.
type RegistryStats struct {
	TotalConditions          int64   `json:"total_conditions"`
	TotalSubscriptions       int64   `json:"total_subscriptions"`
	AvgSubscribersPerCondRaw float64 `json:"avg_subscribers_per_condition"`
}
