package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"TriggerHub/internal/domain/models"
	applogger "TriggerHub/pkg/logger"
)

type fakeBus struct {
	mu         sync.Mutex
	deliveries []*models.Delivery
	dead       []*models.DeadLetter
	failSubs   map[string]bool
}

func (b *fakeBus) Publish(_ context.Context, dl *models.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubs[dl.SubscriptionID] {
		return errors.New("broker unavailable")
	}
	cp := *dl
	b.deliveries = append(b.deliveries, &cp)
	return nil
}

func (b *fakeBus) PublishDeadLetter(_ context.Context, dead *models.DeadLetter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *dead
	b.dead = append(b.dead, &cp)
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) deliveredSubs() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int)
	for _, dl := range b.deliveries {
		out[dl.SubscriptionID]++
	}
	return out
}

type staticSubs struct {
	subs []*models.Subscription
}

func (s *staticSubs) SubscribersFor(context.Context, string) ([]*models.Subscription, error) {
	return s.subs, nil
}

type memIdem struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memIdem) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type countMetrics struct {
	mu       sync.Mutex
	overflow int
	dead     int
	dispatch map[string]int
	errors   map[string]int
}

func newCountMetrics() *countMetrics {
	return &countMetrics{dispatch: make(map[string]int), errors: make(map[string]int)}
}

func (m *countMetrics) RecordTick(string, float64, int) {}
func (m *countMetrics) RecordTrigger(string)            {}
func (m *countMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *countMetrics) RecordStaleSkip(string) {}
func (m *countMetrics) RecordDispatch(result string) {
	m.mu.Lock()
	m.dispatch[result]++
	m.mu.Unlock()
}
func (m *countMetrics) RecordDeadLetter() {
	m.mu.Lock()
	m.dead++
	m.mu.Unlock()
}
func (m *countMetrics) RecordQueueDepth(int) {}
func (m *countMetrics) RecordOverflow() {
	m.mu.Lock()
	m.overflow++
	m.mu.Unlock()
}
func (m *countMetrics) RecordLatency(string, float64) {}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "fatal", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func nSubs(n int) []*models.Subscription {
	subs := make([]*models.Subscription, n)
	for i := range subs {
		subs[i] = &models.Subscription{
			ID:      fmt.Sprintf("sub-%d", i),
			BotID:   fmt.Sprintf("bot-%d", i),
			BotType: models.BotAlert,
			Active:  true,
		}
	}
	return subs
}

func event(id string) *models.TriggerEvent {
	return &models.TriggerEvent{
		EventID: id, ConditionID: "cond-1", Symbol: "BTCUSDT", Timeframe: "1h",
		Snapshot: map[string]float64{"rsi_14": 28.4}, OccurredAt: time.Now(),
	}
}

// Every active subscriber gets exactly one delivery per event.
func TestFanOutCompleteness(t *testing.T) {
	bus := &fakeBus{}
	d := New(&staticSubs{subs: nSubs(5)}, bus, &memIdem{}, testLogger(t), newCountMetrics())
	d.Start()

	ev := event("ev-1")
	if err := d.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	d.Close()

	if len(ev.SubscriptionIDs) != 5 {
		t.Fatalf("event subscription ids = %d, want 5", len(ev.SubscriptionIDs))
	}
	got := bus.deliveredSubs()
	if len(got) != 5 {
		t.Fatalf("delivered to %d subscribers, want 5", len(got))
	}
	for sub, n := range got {
		if n != 1 {
			t.Fatalf("subscriber %s got %d deliveries, want 1", sub, n)
		}
	}
}

// One failing subscriber is retried then dead-lettered without touching
// sibling deliveries of the same event.
func TestFailedSubscriberIsIsolated(t *testing.T) {
	subs := nSubs(3)
	bus := &fakeBus{failSubs: map[string]bool{"sub-1": true}}
	metrics := newCountMetrics()
	d := New(&staticSubs{subs: subs}, bus, &memIdem{}, testLogger(t), metrics,
		WithRetry(3, time.Millisecond, 2*time.Millisecond))
	d.Start()

	if err := d.Publish(context.Background(), event("ev-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	d.Close()

	got := bus.deliveredSubs()
	if got["sub-0"] != 1 || got["sub-2"] != 1 {
		t.Fatalf("healthy subscribers = %v, want one delivery each", got)
	}
	if got["sub-1"] != 0 {
		t.Fatalf("failing subscriber delivered %d times", got["sub-1"])
	}

	if len(bus.dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(bus.dead))
	}
	dead := bus.dead[0]
	if dead.Delivery.SubscriptionID != "sub-1" || dead.Attempts != 3 {
		t.Fatalf("dead letter = %+v, want sub-1 after 3 attempts", dead)
	}
	if dead.Delivery.Event.EventID != "ev-1" {
		t.Fatal("dead letter lost the event payload")
	}
	if metrics.dead != 1 {
		t.Fatalf("dead letter metric = %d, want 1", metrics.dead)
	}
}

// Redelivering the same event is deduplicated on (subscription, event).
func TestDuplicateEventIsDeduplicated(t *testing.T) {
	bus := &fakeBus{}
	metrics := newCountMetrics()
	d := New(&staticSubs{subs: nSubs(2)}, bus, &memIdem{}, testLogger(t), metrics)
	d.Start()

	ctx := context.Background()
	if err := d.Publish(ctx, event("ev-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := d.Publish(ctx, event("ev-1")); err != nil {
		t.Fatalf("republish: %v", err)
	}
	d.Close()

	for sub, n := range bus.deliveredSubs() {
		if n != 1 {
			t.Fatalf("subscriber %s got %d deliveries, want 1", sub, n)
		}
	}
	if metrics.dispatch["duplicate"] != 2 {
		t.Fatalf("duplicates counted = %d, want 2", metrics.dispatch["duplicate"])
	}
}

// A distinct event for the same subscribers is not deduplicated.
func TestDistinctEventsBothDeliver(t *testing.T) {
	bus := &fakeBus{}
	d := New(&staticSubs{subs: nSubs(1)}, bus, &memIdem{}, testLogger(t), newCountMetrics())
	d.Start()

	ctx := context.Background()
	d.Publish(ctx, event("ev-1"))
	d.Publish(ctx, event("ev-2"))
	d.Close()

	if got := bus.deliveredSubs()["sub-0"]; got != 2 {
		t.Fatalf("deliveries = %d, want 2", got)
	}
}

// With a full queue the excess deliveries are dropped loudly, never
// silently.
func TestQueueOverflowIsCounted(t *testing.T) {
	bus := &fakeBus{}
	metrics := newCountMetrics()
	// Workers not started yet: the queue holds one delivery, the other
	// two overflow.
	d := New(&staticSubs{subs: nSubs(3)}, bus, &memIdem{}, testLogger(t), metrics, WithQueueSize(1))

	if err := d.Publish(context.Background(), event("ev-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if metrics.overflow != 2 {
		t.Fatalf("overflow = %d, want 2", metrics.overflow)
	}

	d.Start()
	d.Close()
	if total := len(bus.deliveries); total != 1 {
		t.Fatalf("deliveries = %d, want the single queued one", total)
	}
}
