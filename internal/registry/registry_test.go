package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"TriggerHub/internal/condition"
	"TriggerHub/internal/domain/models"
	applogger "TriggerHub/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordTick(string, float64, int) {}
func (nopMetrics) RecordTrigger(string)            {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordStaleSkip(string)          {}
func (nopMetrics) RecordDispatch(string)           {}
func (nopMetrics) RecordDeadLetter()               {}
func (nopMetrics) RecordQueueDepth(int)            {}
func (nopMetrics) RecordOverflow()                 {}
func (nopMetrics) RecordLatency(string, float64)   {}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *MemoryConditionStore, *MemorySubscriptionStore) {
	t.Helper()
	conds := NewMemoryConditionStore()
	subs := NewMemorySubscriptionStore()
	return New(conds, subs, testLogger(t), nopMetrics{}, opts...), conds, subs
}

func rsiBelow30(symbol, tf string) *models.RawConditionSpec {
	period := 14
	value := 30.0
	return &models.RawConditionSpec{
		Type:      "single",
		Symbol:    symbol,
		Timeframe: tf,
		Indicator: "RSI",
		Period:    &period,
		Operator:  "<",
		Value:     &value,
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r, conds, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	if !first.Created {
		t.Fatal("first register did not create")
	}

	// Same predicate spelled differently must resolve to the same row.
	value := 30.0
	period := 14
	variant := &models.RawConditionSpec{
		ConditionType: "single",
		Symbol:        "btcusdt",
		Interval:      "1H",
		Indicator:     "rsi",
		Period:        &period,
		Operator:      "lt",
		Value:         &value,
	}
	second, err := r.Register(ctx, variant)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if second.Created {
		t.Fatal("variant register created a second condition")
	}
	if first.Condition.ID != second.Condition.ID {
		t.Fatalf("ids differ: %s vs %s", first.Condition.ID, second.Condition.ID)
	}
	if n, _ := conds.Count(ctx); n != 1 {
		t.Fatalf("conditions stored = %d, want 1", n)
	}
}

func TestRegisterRejectsMalformed(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Register(context.Background(), &models.RawConditionSpec{Symbol: "BTCUSDT"})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestRegisterReactivatesInactiveCondition(t *testing.T) {
	r, conds, _ := newTestRegistry(t)
	ctx := context.Background()

	res, err := r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := conds.SetActive(ctx, res.Condition.ID, false, time.Now()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	again, err := r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.Created {
		t.Fatal("re-register created instead of reactivating")
	}
	got, _ := conds.Get(ctx, res.Condition.ID)
	if !got.Active {
		t.Fatal("condition still inactive after re-register")
	}
}

func TestRegisterDetectsHashCollision(t *testing.T) {
	r, conds, _ := newTestRegistry(t)
	ctx := context.Background()

	spec, err := condition.Normalize(rsiBelow30("BTCUSDT", "1h"))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	id := condition.ID(spec)

	// Plant a condition under the same ID with a different canonical form.
	otherSpec, err := condition.Normalize(rsiBelow30("ETHUSDT", "4h"))
	if err != nil {
		t.Fatalf("normalize other: %v", err)
	}
	planted := &models.Condition{
		ID: id, Symbol: otherSpec.Symbol, Timeframe: otherSpec.Timeframe,
		Kind: otherSpec.Kind, Spec: *otherSpec, Active: true, CreatedAt: time.Now(),
	}
	if err := conds.Insert(ctx, planted); err != nil {
		t.Fatalf("insert planted: %v", err)
	}

	_, err = r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	if !errors.Is(err, models.ErrHashCollision) {
		t.Fatalf("err = %v, want ErrHashCollision", err)
	}

	got, _ := conds.Get(ctx, id)
	if !got.Flagged {
		t.Fatal("collided condition not flagged")
	}

	// Flagged conditions leave the evaluation set.
	active, err := r.ActiveConditions(ctx)
	if err != nil {
		t.Fatalf("active conditions: %v", err)
	}
	for _, c := range active {
		if c.ID == id {
			t.Fatal("flagged condition still in evaluation set")
		}
	}

	// And refuse new subscribers.
	if _, err := r.Subscribe(ctx, "bot-x", models.BotAlert, id, nil); !errors.Is(err, models.ErrHashCollision) {
		t.Fatalf("subscribe to flagged: err = %v, want ErrHashCollision", err)
	}
}

func TestSubscribeUnknownCondition(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Subscribe(context.Background(), "bot-a", models.BotDCA, "deadbeefdeadbeef", nil)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscribeDuplicateIsConflict(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	res, err := r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Subscribe(ctx, "bot-a", models.BotDCA, res.Condition.ID, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := r.Subscribe(ctx, "bot-a", models.BotDCA, res.Condition.ID, nil); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("duplicate subscribe: err = %v, want ErrConflict", err)
	}
}

func TestUnsubscribeRequiresOwnership(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	res, err := r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sub, err := r.Subscribe(ctx, "bot-a", models.BotDCA, res.Condition.ID, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := r.Unsubscribe(ctx, "bot-b", sub.ID); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("foreign unsubscribe: err = %v, want ErrForbidden", err)
	}
	if err := r.Unsubscribe(ctx, "bot-a", sub.ID); err != nil {
		t.Fatalf("owner unsubscribe: %v", err)
	}
	// Repeat unsubscribe is a no-op, not an error.
	if err := r.Unsubscribe(ctx, "bot-a", sub.ID); err != nil {
		t.Fatalf("repeat unsubscribe: %v", err)
	}
}

// Two bots share one RSI condition; the last unsubscribe leaves the
// condition active at zero subscribers until the sweep reclaims it.
func TestSharedConditionLifecycle(t *testing.T) {
	r, conds, _ := newTestRegistry(t, WithRetention(time.Hour))
	ctx := context.Background()

	a, err := r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	if err != nil {
		t.Fatalf("register A: %v", err)
	}
	b, err := r.Register(ctx, rsiBelow30("btcusdt", "60m"))
	if err != nil {
		t.Fatalf("register B: %v", err)
	}
	if a.Condition.ID != b.Condition.ID {
		t.Fatalf("equivalent specs got distinct ids: %s vs %s", a.Condition.ID, b.Condition.ID)
	}
	id := a.Condition.ID

	subA, err := r.Subscribe(ctx, "dca-bot-1", models.BotDCA, id, nil)
	if err != nil {
		t.Fatalf("subscribe A: %v", err)
	}
	subB, err := r.Subscribe(ctx, "alert-bot-7", models.BotAlert, id, nil)
	if err != nil {
		t.Fatalf("subscribe B: %v", err)
	}

	st, err := r.Status(ctx, id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.SubscriberCount != 2 || !st.Active {
		t.Fatalf("status = %+v, want 2 active subscribers", st)
	}

	if err := r.Unsubscribe(ctx, "alert-bot-7", subB.ID); err != nil {
		t.Fatalf("unsubscribe B: %v", err)
	}
	if err := r.Unsubscribe(ctx, "dca-bot-1", subA.ID); err != nil {
		t.Fatalf("unsubscribe A: %v", err)
	}

	st, _ = r.Status(ctx, id)
	if st.SubscriberCount != 0 {
		t.Fatalf("subscriber count = %d, want 0", st.SubscriberCount)
	}
	if !st.Active {
		t.Fatal("condition deactivated immediately at zero subscribers")
	}

	// Inside the retention window nothing is swept.
	swept, err := r.SweepInactive(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}

	// Past the window the idle condition is reclaimed.
	swept, err = r.SweepInactive(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	got, _ := conds.Get(ctx, id)
	if got.Active {
		t.Fatal("condition still active after sweep")
	}

	// A fresh registration revives the same identity.
	again, err := r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.Condition.ID != id || !again.Condition.Active {
		t.Fatalf("revived condition = %+v, want active %s", again.Condition, id)
	}
}

func TestStats(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	btc, _ := r.Register(ctx, rsiBelow30("BTCUSDT", "1h"))
	eth, _ := r.Register(ctx, rsiBelow30("ETHUSDT", "1h"))
	if _, err := r.Subscribe(ctx, "bot-a", models.BotDCA, btc.Condition.ID, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := r.Subscribe(ctx, "bot-b", models.BotAlert, btc.Condition.ID, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := r.Subscribe(ctx, "bot-a", models.BotDCA, eth.Condition.ID, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	stats, err := r.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalConditions != 2 || stats.TotalSubscriptions != 3 {
		t.Fatalf("stats = %+v, want 2 conditions / 3 subscriptions", stats)
	}
	if stats.AvgSubscribersPerCondRaw != 1.5 {
		t.Fatalf("avg = %v, want 1.5", stats.AvgSubscribersPerCondRaw)
	}

	subs, err := r.SubscriptionsFor(ctx, "bot-a")
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("bot-a subscriptions = %d, want 2", len(subs))
	}
}
