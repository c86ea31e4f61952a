package indicator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
)

// fakeFeed serves a fixed candle history for Backfill and counts calls.
type fakeFeed struct {
	history   []models.Candle
	backfills atomic.Int64
	fail      bool
}

func (f *fakeFeed) Connect(context.Context) error                  { return nil }
func (f *fakeFeed) Subscribe(context.Context, []string) error      { return nil }
func (f *fakeFeed) Reconnect(context.Context) error                { return nil }
func (f *fakeFeed) Close() error                                   { return nil }
func (f *fakeFeed) IsConnected() bool                              { return true }
func (f *fakeFeed) Candles(context.Context) (<-chan *models.Candle, <-chan error) {
	return nil, nil
}

func (f *fakeFeed) Backfill(_ context.Context, _ string, _ domrepo.Timeframe, limit int) ([]models.Candle, error) {
	f.backfills.Add(1)
	if f.fail {
		return nil, errors.New("upstream 502")
	}
	if limit > len(f.history) {
		limit = len(f.history)
	}
	return f.history[len(f.history)-limit:], nil
}

func hourlyHistory(n int, start float64) []models.Candle {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = candleAt(start+float64(i), base.Add(time.Duration(i)*time.Hour))
	}
	return out
}

func testKey() Key {
	return Key{Symbol: "BTCUSDT", Timeframe: domrepo.TF1h, Kind: models.IndicatorSMA, Period: 5}
}

func TestCacheEnsureBackfillsColdEntry(t *testing.T) {
	feed := &fakeFeed{history: hourlyHistory(30, 100)}
	c := NewCache(feed, nil, nil)

	if err := c.Ensure(context.Background(), testKey(), 5); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := feed.backfills.Load(); got != 1 {
		t.Fatalf("backfills = %d, want 1", got)
	}

	// closes 125..129, SMA(5) = 127
	v, err := c.Value(testKey(), time.Now())
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	assertClose(t, "warm sma", v, 127, 1e-9)

	// Warm path must not backfill again.
	if err := c.Ensure(context.Background(), testKey(), 5); err != nil {
		t.Fatalf("ensure warm: %v", err)
	}
	if got := feed.backfills.Load(); got != 1 {
		t.Fatalf("backfills after warm ensure = %d, want 1", got)
	}
}

func TestCacheEnsureUnsupportedKind(t *testing.T) {
	c := NewCache(&fakeFeed{}, nil, nil)
	key := testKey()
	key.Kind = models.IndicatorKind("vwap")

	err := c.Ensure(context.Background(), key, 5)
	if !errors.Is(err, models.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestCacheBackfillFailureWarmsIncrementally(t *testing.T) {
	feed := &fakeFeed{fail: true}
	c := NewCache(feed, nil, nil)
	key := testKey()

	err := c.Ensure(context.Background(), key, 5)
	if !errors.Is(err, models.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}

	// Entry exists but is not ready until live candles warm it up.
	if _, err := c.Value(key, time.Now()); !errors.Is(err, models.ErrNotReady) {
		t.Fatalf("value err = %v, want ErrNotReady", err)
	}

	for i, cd := range hourlyHistory(5, 200) {
		cc := cd
		c.OnCandleClosed(context.Background(), &cc)
		if i < 4 {
			if _, err := c.Value(key, time.Now()); !errors.Is(err, models.ErrNotReady) {
				t.Fatalf("candle %d: err = %v, want ErrNotReady", i, err)
			}
		}
	}

	v, err := c.Value(key, time.Now())
	if err != nil {
		t.Fatalf("value after warmup: %v", err)
	}
	assertClose(t, "incremental sma", v, 202, 1e-9)
}

func TestCacheOutOfOrderCandleRebuilds(t *testing.T) {
	feed := &fakeFeed{history: hourlyHistory(30, 100)}
	c := NewCache(feed, nil, nil)
	key := testKey()

	if err := c.Ensure(context.Background(), key, 5); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	before := feed.backfills.Load()

	// Re-deliver an old candle. The entry must be rebuilt from backfill
	// rather than folding the stale close into the running window.
	old := feed.history[10]
	c.OnCandleClosed(context.Background(), &old)

	if got := feed.backfills.Load(); got != before+1 {
		t.Fatalf("backfills = %d, want %d", got, before+1)
	}

	v, err := c.Value(key, time.Now())
	if err != nil {
		t.Fatalf("value after rebuild: %v", err)
	}
	assertClose(t, "rebuilt sma", v, 127, 1e-9)
}

func TestCacheValueGoesStale(t *testing.T) {
	feed := &fakeFeed{history: hourlyHistory(30, 100)}
	c := NewCache(feed, nil, nil, WithStaleMultiple(3))
	key := testKey()

	if err := c.Ensure(context.Background(), key, 5); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if _, err := c.Value(key, time.Now()); err != nil {
		t.Fatalf("fresh value: %v", err)
	}
	future := time.Now().Add(4 * time.Hour)
	if _, err := c.Value(key, future); !errors.Is(err, models.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
}

func TestCacheBarIndexCountsClosedBars(t *testing.T) {
	c := NewCache(&fakeFeed{}, nil, nil)
	for _, cd := range hourlyHistory(7, 100) {
		cc := cd
		c.OnCandleClosed(context.Background(), &cc)
	}
	if got := c.BarIndex("BTCUSDT", domrepo.TF1h); got != 7 {
		t.Fatalf("bar index = %d, want 7", got)
	}
	if got := c.BarIndex("ETHUSDT", domrepo.TF1h); got != 0 {
		t.Fatalf("bar index for unseen symbol = %d, want 0", got)
	}
}

func TestCacheCheckpointRestore(t *testing.T) {
	feed := &fakeFeed{history: hourlyHistory(30, 100)}
	c := NewCache(feed, nil, nil)
	key := testKey()

	if err := c.Ensure(context.Background(), key, 5); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	want, err := c.Value(key, time.Now())
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	snap := c.Checkpoint()
	if len(snap) != 1 {
		t.Fatalf("checkpoint entries = %d, want 1", len(snap))
	}

	fresh := NewCache(&fakeFeed{fail: true}, nil, nil)
	if restored := fresh.RestoreCheckpoint(snap); restored != 1 {
		t.Fatalf("restored = %d, want 1", restored)
	}

	got, err := fresh.Value(key, time.Now())
	if err != nil {
		t.Fatalf("restored value: %v", err)
	}
	assertClose(t, "checkpointed sma", got, want, 1e-12)
}
