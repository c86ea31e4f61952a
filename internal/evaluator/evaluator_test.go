package evaluator

import (
	"context"
	"sync"
	"testing"
	"time"

	"TriggerHub/internal/condition"
	"TriggerHub/internal/domain/models"
	"TriggerHub/internal/indicator"
	applogger "TriggerHub/pkg/logger"
)

type captureSink struct {
	mu     sync.Mutex
	events []*models.TriggerEvent
}

func (s *captureSink) Publish(_ context.Context, ev *models.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type staticSource struct {
	conds []*models.Condition
}

func (s *staticSource) ActiveConditions(context.Context) ([]*models.Condition, error) {
	return s.conds, nil
}

type countMetrics struct {
	mu         sync.Mutex
	errors     map[string]int
	staleSkips int
}

func newCountMetrics() *countMetrics { return &countMetrics{errors: make(map[string]int)} }

func (m *countMetrics) RecordTick(string, float64, int) {}
func (m *countMetrics) RecordTrigger(string)            {}
func (m *countMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *countMetrics) RecordStaleSkip(string) {
	m.mu.Lock()
	m.staleSkips++
	m.mu.Unlock()
}
func (m *countMetrics) RecordDispatch(string)         {}
func (m *countMetrics) RecordDeadLetter()             {}
func (m *countMetrics) RecordQueueDepth(int)          {}
func (m *countMetrics) RecordOverflow()               {}
func (m *countMetrics) RecordLatency(string, float64) {}

type harness struct {
	eval    *Evaluator
	sink    *captureSink
	metrics *countMetrics
	cond    *models.Condition
	clock   time.Time
	bar     int
}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func newHarness(t *testing.T, raw *models.RawConditionSpec, opts ...EvalOption) *harness {
	t.Helper()

	spec, err := condition.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cond := &models.Condition{
		ID: condition.ID(spec), Symbol: spec.Symbol, Timeframe: spec.Timeframe,
		Kind: spec.Kind, Spec: *spec, Active: true, CreatedAt: time.Now(),
	}

	h := &harness{
		sink:    &captureSink{},
		metrics: newCountMetrics(),
		cond:    cond,
		clock:   time.Now().Truncate(time.Hour),
	}

	cache := indicator.NewCache(nil, nil, h.metrics)
	opts = append(opts, withClock(func() time.Time { return h.clock }))
	h.eval = New(&staticSource{conds: []*models.Condition{cond}}, cache, NewStateStore(), h.sink, testLogger(t), h.metrics, opts...)

	// Prime the cache entries so the first closed candle lands in them.
	h.eval.evaluateCondition(context.Background(), cond)
	h.metrics.mu.Lock()
	h.metrics.staleSkips = 0
	h.metrics.mu.Unlock()
	return h
}

// tick closes one candle at the given price and evaluates the condition.
func (h *harness) tick(close float64) {
	cd := &models.Candle{
		Symbol: h.cond.Symbol, Timeframe: h.cond.Timeframe,
		OpenTime: h.clock.Add(time.Duration(h.bar) * time.Minute),
		Open:     close, High: close + 1, Low: close - 1, Close: close, Volume: 1,
	}
	h.bar++
	h.clock = h.clock.Add(time.Minute)

	ctx := context.Background()
	h.eval.cache.OnCandleClosed(ctx, cd)
	h.eval.evaluateCondition(ctx, h.cond)
}

func priceAbove(value float64) *models.RawConditionSpec {
	return &models.RawConditionSpec{
		Type: "single", Symbol: "BTCUSDT", Timeframe: "1h",
		Indicator: "price", Operator: ">", Value: &value,
	}
}

// The canonical flap sequence F,F,T,T,T,F,T must raise exactly two
// triggers, at the two false→true edges.
func TestRisingEdgeOnly(t *testing.T) {
	h := newHarness(t, priceAbove(100), WithDebounce(0))

	fires := make([]int, 0, 2)
	for i, close := range []float64{95, 96, 105, 106, 107, 95, 105} {
		before := h.sink.count()
		h.tick(close)
		if h.sink.count() > before {
			fires = append(fires, i)
		}
	}

	if len(fires) != 2 || fires[0] != 2 || fires[1] != 6 {
		t.Fatalf("fired at ticks %v, want [2 6]", fires)
	}
}

// A fresh rising edge inside the debounce window stays silent; the next
// edge after the window fires.
func TestDebounceWindowSuppressesFlapping(t *testing.T) {
	h := newHarness(t, priceAbove(100), WithDebounce(10*time.Minute))

	h.tick(105) // fires, debounce until +10m
	h.tick(95)
	h.tick(105) // edge at +2m, suppressed
	if got := h.sink.count(); got != 1 {
		t.Fatalf("triggers = %d, want 1 inside debounce window", got)
	}

	for i := 0; i < 9; i++ {
		h.tick(95)
	}
	h.tick(105) // edge past the window
	if got := h.sink.count(); got != 2 {
		t.Fatalf("triggers = %d, want 2 after debounce expiry", got)
	}
}

func TestCrossAboveNeedsSignChange(t *testing.T) {
	h := newHarness(t, &models.RawConditionSpec{
		Type: "single", Symbol: "BTCUSDT", Timeframe: "1h",
		Indicator: "price", Operator: "cross_above", Value: floatPtr(100),
	}, WithDebounce(0))

	h.tick(95) // records sign only
	if h.sink.count() != 0 {
		t.Fatal("cross fired on the first observation")
	}
	h.tick(105) // below → above
	if h.sink.count() != 1 {
		t.Fatalf("triggers = %d, want 1 on the cross", h.sink.count())
	}
	h.tick(110) // stays above, no new cross
	h.tick(120)
	if h.sink.count() != 1 {
		t.Fatalf("triggers = %d, want still 1 while above", h.sink.count())
	}
	h.tick(95)
	h.tick(105) // crosses again
	if h.sink.count() != 2 {
		t.Fatalf("triggers = %d, want 2 after a second cross", h.sink.count())
	}
}

func playbookSpec(validityBars int) *models.RawConditionSpec {
	return &models.RawConditionSpec{
		Type: "playbook", Symbol: "BTCUSDT", Timeframe: "1h", Gate: "ALL",
		Legs: []models.RawLeg{
			{
				Indicator: "price", Operator: "<", Value: floatPtr(100),
				Priority: 1, ValidityDuration: validityBars, ValidityUnit: "bars",
			},
			{
				Indicator: "price", Operator: ">", Value: floatPtr(150),
				Priority: 2, ValidityDuration: validityBars, ValidityUnit: "bars",
			},
		},
	}
}

// Leg 1 true at bar 0 stays hot for 3 bars; leg 2 true at bar 2 completes
// the ALL gate inside the window.
func TestPlaybookFiresInsideHotWindow(t *testing.T) {
	h := newHarness(t, playbookSpec(3), WithDebounce(0))

	h.tick(90)  // bar 0: leg1 true
	h.tick(120) // bar 1: neither predicate true, leg1 still hot
	if h.sink.count() != 0 {
		t.Fatal("playbook fired before the gate was complete")
	}
	h.tick(160) // bar 2: leg2 true, leg1 hot → ALL satisfied
	if h.sink.count() != 1 {
		t.Fatalf("triggers = %d, want 1 at bar 2", h.sink.count())
	}
}

// If leg 2 only turns true after leg 1's window lapsed, the gate never
// completes and nothing fires.
func TestPlaybookMissesExpiredHotWindow(t *testing.T) {
	h := newHarness(t, playbookSpec(3), WithDebounce(0))

	h.tick(90) // bar 0: leg1 true
	for i := 0; i < 4; i++ {
		h.tick(120) // bars 1-4: leg1 window lapses after bar 3
	}
	h.tick(160) // bar 5: leg2 true, leg1 cold
	if got := h.sink.count(); got != 0 {
		t.Fatalf("triggers = %d, want 0 after the window expired", got)
	}
}

func TestPlaybookAnyGate(t *testing.T) {
	raw := playbookSpec(3)
	raw.Gate = "ANY"
	h := newHarness(t, raw, WithDebounce(0))

	h.tick(90) // leg1 true alone satisfies ANY
	if h.sink.count() != 1 {
		t.Fatalf("triggers = %d, want 1 under ANY gate", h.sink.count())
	}
}

// A condition whose indicator has no data yet is skipped, not evaluated
// against garbage, and no state transition is recorded.
func TestNotReadyIndicatorSkipsCondition(t *testing.T) {
	h := newHarness(t, &models.RawConditionSpec{
		Type: "single", Symbol: "BTCUSDT", Timeframe: "1h",
		Indicator: "rsi", Operator: "<", Value: floatPtr(30),
	}, WithDebounce(0))

	// Two candles are far from enough for RSI(14).
	h.tick(90)
	h.tick(80)
	if h.sink.count() != 0 {
		t.Fatal("triggered on a not-ready indicator")
	}
	if h.metrics.staleSkips == 0 {
		t.Fatal("skip was not counted")
	}
}

func TestUnsupportedKindFailsClosed(t *testing.T) {
	h := newHarness(t, priceAbove(100), WithDebounce(0))
	h.cond.Kind = models.Kind("composite")

	h.tick(105)
	if h.sink.count() != 0 {
		t.Fatal("unsupported kind produced a trigger")
	}
	if h.metrics.errors["unsupported_kind"] == 0 {
		t.Fatal("unsupported kind was not counted")
	}
}

func TestSnapshotCarriesIndicatorValues(t *testing.T) {
	h := newHarness(t, priceAbove(100), WithDebounce(0))
	h.tick(105)

	if h.sink.count() != 1 {
		t.Fatalf("triggers = %d, want 1", h.sink.count())
	}
	ev := h.sink.events[0]
	if ev.ConditionID != h.cond.ID || ev.Symbol != "btcusdt" || ev.EventID == "" {
		t.Fatalf("event = %+v", ev)
	}
	if got := ev.Snapshot["price"]; got != 105 {
		t.Fatalf("snapshot price = %v, want 105", got)
	}
}

// Feeds report exchange casing while conditions canonicalize to lowercase;
// a candle delivered as BTCUSDT must still reach the btcusdt group.
func TestExchangeCasedCandleReachesCondition(t *testing.T) {
	h := newHarness(t, priceAbove(100), WithDebounce(0))
	if h.cond.Symbol != "btcusdt" {
		t.Fatalf("canonical symbol = %q, want btcusdt", h.cond.Symbol)
	}

	ctx := context.Background()
	for i, close := range []float64{95, 105} {
		h.eval.OnCandleClosed(ctx, &models.Candle{
			Symbol: "BTCUSDT", Timeframe: "1h",
			OpenTime: h.clock.Add(time.Duration(i) * time.Minute),
			Open:     close, High: close + 1, Low: close - 1, Close: close, Volume: 1,
		})
	}
	h.eval.Close() // drain the scheduled group evaluations

	if got := h.sink.count(); got != 1 {
		t.Fatalf("triggers = %d, want 1 from exchange-cased candles", got)
	}
}

func floatPtr(v float64) *float64 { return &v }
