package condition

import (
	"errors"
	"testing"

	"TriggerHub/internal/domain/models"
)

func rsiSpec(symbol, tf string, period int, op string, value float64) *models.RawConditionSpec {
	return &models.RawConditionSpec{
		Kind:      "single",
		Symbol:    symbol,
		Timeframe: tf,
		Indicator: "RSI",
		Period:    &period,
		Operator:  op,
		Value:     &value,
	}
}

func TestNormalizeCaseVariantsCollapse(t *testing.T) {
	a, err := Normalize(rsiSpec("BTCUSDT", "1h", 14, "<", 30))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	b, err := Normalize(rsiSpec("btcusdt", "1H", 14, "lt", 30))
	if err != nil {
		t.Fatalf("normalize variant: %v", err)
	}
	if ID(a) != ID(b) {
		t.Fatalf("case/synonym variants must hash identically: %q vs %q", ID(a), ID(b))
	}
}

func TestNormalizeSynonymousKindFields(t *testing.T) {
	v := 30.0
	p := 14
	base := &models.RawConditionSpec{
		Type: "single", Symbol: "ethusdt", TF: "4h",
		Indicator: "rsi", Period: &p, Operator: "<", Value: &v,
	}
	alt := &models.RawConditionSpec{
		ConditionType: "single", Symbol: "ETHUSDT", Interval: "4h",
		Indicator: "rsi", Period: &p, Operator: "lt", Value: &v,
	}
	ca, err := Normalize(base)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cb, err := Normalize(alt)
	if err != nil {
		t.Fatalf("normalize alt: %v", err)
	}
	if ID(ca) != ID(cb) {
		t.Fatal("type/conditionType and tf/interval must be synonymous")
	}
}

func TestNormalizeDefaultPeriodCollapses(t *testing.T) {
	v := 30.0
	explicit := rsiSpec("btcusdt", "1h", 14, "lt", 30)
	implicit := &models.RawConditionSpec{
		Kind: "single", Symbol: "btcusdt", Timeframe: "1h",
		Indicator: "rsi", Operator: "lt", Value: &v,
	}
	ce, err := Normalize(explicit)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	ci, err := Normalize(implicit)
	if err != nil {
		t.Fatalf("normalize implicit: %v", err)
	}
	if ID(ce) != ID(ci) {
		t.Fatal("omitted period must resolve to the documented default (RSI=14)")
	}
}

func TestDistinctSpecsGetDistinctIDs(t *testing.T) {
	base, _ := Normalize(rsiSpec("btcusdt", "1h", 14, "lt", 30))
	variants := []*models.RawConditionSpec{
		rsiSpec("btcusdt", "1h", 14, "lt", 31),  // threshold
		rsiSpec("btcusdt", "1h", 21, "lt", 30),  // period
		rsiSpec("btcusdt", "1h", 14, "gt", 30),  // operator
		rsiSpec("btcusdt", "4h", 14, "lt", 30),  // timeframe
		rsiSpec("ethusdt", "1h", 14, "lt", 30),  // symbol
	}
	for i, raw := range variants {
		c, err := Normalize(raw)
		if err != nil {
			t.Fatalf("variant %d: %v", i, err)
		}
		if ID(c) == ID(base) {
			t.Errorf("variant %d: semantically different spec collided with base id", i)
		}
	}
}

func TestNormalizePlaybook(t *testing.T) {
	v1, v2 := 30.0, 50.0
	raw := &models.RawConditionSpec{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Gate:      "all",
		Legs: []models.RawLeg{
			// Submitted out of priority order on purpose.
			{Indicator: "ema", Operator: ">", Value: &v2, Priority: 2, ValidityDuration: 5, ValidityUnit: "bars"},
			{Indicator: "rsi", Operator: "<", Value: &v1, Priority: 1, ValidityDuration: 3, ValidityUnit: "bars"},
		},
	}
	spec, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize playbook: %v", err)
	}
	if spec.Kind != models.KindPlaybook {
		t.Fatalf("expected kind=playbook, got %s", spec.Kind)
	}
	if spec.Playbook.Gate != models.GateAll {
		t.Fatalf("expected gate ALL, got %s", spec.Playbook.Gate)
	}
	if spec.Playbook.Legs[0].Priority != 1 || spec.Playbook.Legs[1].Priority != 2 {
		t.Fatal("legs must be sorted by ascending priority")
	}

	// Leg order in the input must not change the identity.
	swapped := &models.RawConditionSpec{
		Symbol: "btcusdt", Timeframe: "1H", Gate: "ALL",
		Legs: []models.RawLeg{raw.Legs[1], raw.Legs[0]},
	}
	spec2, err := Normalize(swapped)
	if err != nil {
		t.Fatalf("normalize swapped: %v", err)
	}
	if ID(spec) != ID(spec2) {
		t.Fatal("leg submission order must not affect the canonical id")
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	v := 30.0
	cases := []*models.RawConditionSpec{
		{Kind: "single", Timeframe: "1h", Indicator: "rsi", Operator: "<", Value: &v},     // no symbol
		{Kind: "single", Symbol: "x", Indicator: "rsi", Operator: "<", Value: &v},          // no timeframe
		{Kind: "single", Symbol: "x", Timeframe: "7m", Indicator: "rsi", Operator: "<", Value: &v},
		{Kind: "single", Symbol: "x", Timeframe: "1h", Indicator: "vibes", Operator: "<", Value: &v},
		{Kind: "single", Symbol: "x", Timeframe: "1h", Indicator: "rsi", Operator: "~", Value: &v},
		{Kind: "single", Symbol: "x", Timeframe: "1h", Indicator: "rsi", Operator: "<"}, // no value
		{Kind: "playbook", Symbol: "x", Timeframe: "1h"},                                // no legs
		{Symbol: "x", Timeframe: "1h", Gate: "XOR", Legs: []models.RawLeg{
			{Indicator: "rsi", Operator: "<", Value: &v, Priority: 1, ValidityDuration: 3, ValidityUnit: "bars"},
		}},
		{Symbol: "x", Timeframe: "1h", Legs: []models.RawLeg{
			{Indicator: "rsi", Operator: "<", Value: &v, Priority: 1, ValidityDuration: 3, ValidityUnit: "candles"},
		}},
	}
	for i, raw := range cases {
		if _, err := Normalize(raw); !errors.Is(err, models.ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

// A lookback indicator with period 0 would be clamped inside the engine,
// so the same effective condition could canonicalize to two ids. Reject it
// up front; price carries no lookback and keeps accepting 0.
func TestNormalizeRejectsNonPositivePeriods(t *testing.T) {
	cases := []*models.RawConditionSpec{
		rsiSpec("btcusdt", "1h", 0, "lt", 30),
		rsiSpec("btcusdt", "1h", -1, "lt", 30),
		{Kind: "single", Symbol: "btcusdt", Timeframe: "1h", Indicator: "price",
			Operator: ">", CompareIndicator: "sma", ComparePeriod: intPtr(0)},
	}
	for i, raw := range cases {
		if _, err := Normalize(raw); !errors.Is(err, models.ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}

	v := 100.0
	price := &models.RawConditionSpec{
		Kind: "single", Symbol: "btcusdt", Timeframe: "1h",
		Indicator: "price", Period: intPtr(0), Operator: ">", Value: &v,
	}
	if _, err := Normalize(price); err != nil {
		t.Fatalf("price with period 0: %v", err)
	}
}

func TestMaxLookback(t *testing.T) {
	v := 30.0
	raw := &models.RawConditionSpec{
		Symbol: "btcusdt", Timeframe: "1h",
		Legs: []models.RawLeg{
			{Indicator: "rsi", Operator: "<", Value: &v, Priority: 1, ValidityDuration: 3, ValidityUnit: "bars"},
			{Indicator: "sma", Period: intPtr(200), Operator: ">", Value: &v, Priority: 2, ValidityDuration: 3, ValidityUnit: "bars"},
		},
	}
	spec, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := MaxLookback(spec); got != 200 {
		t.Fatalf("expected lookback 200, got %d", got)
	}
}

func intPtr(v int) *int { return &v }
