package indicator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	"TriggerHub/internal/service/ratelimit"
	applogger "TriggerHub/pkg/logger"
)

// Key identifies one logical cache entry.
type Key struct {
	Symbol    string
	Timeframe domrepo.Timeframe
	Kind      models.IndicatorKind
	Period    int
}

func (k Key) String() string {
	return k.Symbol + ":" + string(k.Timeframe) + ":" + string(k.Kind) + ":" + strconv.Itoa(k.Period)
}

func (k Key) group() string { return k.Symbol + ":" + string(k.Timeframe) }

type entry struct {
	mu       sync.Mutex
	ind      Indicator
	lookback int
	lastOpen time.Time
	lastSeen time.Time
	invalid  bool
}

// Cache maintains rolling indicator state per (symbol, timeframe, kind,
// params). Entries are append-only per (symbol, timeframe): a single
// writer (the evaluation group's goroutine) advances them while readers
// take per-entry locks only long enough to copy a value.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	byGroup map[string][]Key

	barsMu sync.Mutex
	bars   map[string]int64

	feed    domrepo.MarketFeed
	limiter *ratelimit.Limiter
	logger  *applogger.Logger
	metrics domrepo.Metrics

	staleMultiple   int
	backfillTimeout time.Duration
	backfillRPS     float64
}

// CacheOption configures Cache.
type CacheOption func(*Cache)

// WithStaleMultiple sets how many bucket widths may elapse without an
// update before an entry is treated as stale.
func WithStaleMultiple(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.staleMultiple = n
		}
	}
}

// WithBackfillTimeout bounds a single cold-start backfill call.
func WithBackfillTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.backfillTimeout = d
		}
	}
}

// WithBackfillRPS bounds backfill requests per (symbol, timeframe) so a
// burst of cold entries cannot saturate the feed.
func WithBackfillRPS(rps float64) CacheOption {
	return func(c *Cache) {
		if rps > 0 {
			c.backfillRPS = rps
		}
	}
}

// NewCache creates an indicator cache backed by the given feed for
// cold-start and rebuild backfills.
func NewCache(feed domrepo.MarketFeed, logger *applogger.Logger, metrics domrepo.Metrics, opts ...CacheOption) *Cache {
	c := &Cache{
		entries:         make(map[Key]*entry),
		byGroup:         make(map[string][]Key),
		bars:            make(map[string]int64),
		feed:            feed,
		limiter:         ratelimit.New(),
		logger:          logger,
		metrics:         metrics,
		staleMultiple:   3,
		backfillTimeout: 10 * time.Second,
		backfillRPS:     5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// warmupPad covers seed candles (RSI/ATR need period+1) on top of the
// declared lookback.
const warmupPad = 8

// Ensure creates the entry for key if missing, backfilling from the feed
// bounded by lookback. Safe to call on every evaluation; the warm path is
// one read-locked map hit.
func (c *Cache) Ensure(ctx context.Context, key Key, lookback int) error {
	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return nil
	}

	ind := New(key.Kind, key.Period)
	if ind == nil {
		return fmt.Errorf("%w: indicator %s", models.ErrUnsupported, key.Kind)
	}
	if lookback < key.Period {
		lookback = key.Period
	}

	e := &entry{ind: ind, lookback: lookback}

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		c.mu.Unlock()
		_ = existing
		return nil
	}
	c.entries[key] = e
	c.byGroup[key.group()] = append(c.byGroup[key.group()], key)
	c.mu.Unlock()

	if err := c.backfill(ctx, key, e); err != nil {
		// Entry stays registered and warms incrementally from the feed.
		if c.metrics != nil {
			c.metrics.RecordError("indicator_backfill")
		}
		return err
	}
	return nil
}

// OnCandleClosed advances every entry for the candle's (symbol,
// timeframe). Out-of-order or backfilled candles invalidate the affected
// entries and trigger a full rebuild instead of patching state.
func (c *Cache) OnCandleClosed(ctx context.Context, cd *models.Candle) {
	group := cd.Key()

	c.barsMu.Lock()
	c.bars[group]++
	c.barsMu.Unlock()

	c.mu.RLock()
	keys := c.byGroup[group]
	c.mu.RUnlock()

	for _, key := range keys {
		c.mu.RLock()
		e := c.entries[key]
		c.mu.RUnlock()
		if e == nil {
			continue
		}

		e.mu.Lock()
		switch {
		case e.invalid:
			e.mu.Unlock()
			c.rebuild(ctx, key, e)
		case !e.lastOpen.IsZero() && !cd.OpenTime.After(e.lastOpen):
			e.invalid = true
			e.mu.Unlock()
			if c.logger != nil {
				c.logger.Warn("out-of-order candle, rebuilding indicator entry",
					applogger.String("key", key.String()))
			}
			if c.metrics != nil {
				c.metrics.RecordError("candle_out_of_order")
			}
			c.rebuild(ctx, key, e)
		default:
			e.ind.Update(*cd)
			e.lastOpen = cd.OpenTime
			e.lastSeen = time.Now()
			e.mu.Unlock()
		}
	}
}

// Value returns the entry's current value, or ErrNotReady / ErrStale when
// it cannot be trusted for evaluation at time now.
func (c *Cache) Value(key Key, now time.Time) (float64, error) {
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()
	if e == nil {
		return 0, fmt.Errorf("%s: %w", key.String(), models.ErrNotReady)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.invalid {
		return 0, fmt.Errorf("%s: %w", key.String(), models.ErrStale)
	}
	if !e.ind.Ready() {
		return 0, fmt.Errorf("%s: %w", key.String(), models.ErrNotReady)
	}
	if d := key.Timeframe.Duration(); d > 0 && !e.lastSeen.IsZero() {
		if now.Sub(e.lastSeen) > time.Duration(c.staleMultiple)*d {
			return 0, fmt.Errorf("%s: %w", key.String(), models.ErrStale)
		}
	}
	return e.ind.Value(), nil
}

// BarIndex reports how many closed bars the cache has seen for a group.
// Playbook validity windows measured in bars count on this clock.
func (c *Cache) BarIndex(symbol string, tf domrepo.Timeframe) int64 {
	c.barsMu.Lock()
	defer c.barsMu.Unlock()
	return c.bars[symbol+":"+string(tf)]
}

func (c *Cache) backfill(ctx context.Context, key Key, e *entry) error {
	if c.feed == nil {
		return nil
	}
	if !c.limiter.Allow("backfill:"+key.group(), c.backfillRPS, c.backfillRPS) {
		// Over budget; the entry warms incrementally instead.
		return nil
	}

	bctx, cancel := context.WithTimeout(ctx, c.backfillTimeout)
	defer cancel()

	candles, err := c.feed.Backfill(bctx, key.Symbol, key.Timeframe, e.lookback+warmupPad)
	if err != nil {
		return fmt.Errorf("backfill %s: %w: %v", key.String(), models.ErrDataUnavailable, err)
	}

	fresh := New(key.Kind, key.Period)
	var lastOpen time.Time
	for i := range candles {
		if !candles[i].OpenTime.After(lastOpen) && !lastOpen.IsZero() {
			continue // feed returned a duplicate or out-of-order row
		}
		fresh.Update(candles[i])
		lastOpen = candles[i].OpenTime
	}

	e.mu.Lock()
	e.ind = fresh
	e.lastOpen = lastOpen
	e.lastSeen = time.Now()
	e.invalid = false
	e.mu.Unlock()
	return nil
}

func (c *Cache) rebuild(ctx context.Context, key Key, e *entry) {
	if err := c.backfill(ctx, key, e); err != nil {
		if c.logger != nil {
			c.logger.Warn("indicator rebuild failed", applogger.String("key", key.String()), applogger.Error(err))
		}
		if c.metrics != nil {
			c.metrics.RecordError("indicator_rebuild")
		}
	}
}

// CheckpointEntry is one persisted cache entry.
type CheckpointEntry struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Snapshot  Snapshot           `json:"snapshot"`
	LastOpen  time.Time          `json:"last_open"`
}

// Checkpoint serializes all valid entries for persistence across restarts.
func (c *Cache) Checkpoint() []CheckpointEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CheckpointEntry, 0, len(c.entries))
	for key, e := range c.entries {
		e.mu.Lock()
		if !e.invalid {
			out = append(out, CheckpointEntry{
				Symbol:    key.Symbol,
				Timeframe: string(key.Timeframe),
				Snapshot:  e.ind.Snapshot(),
				LastOpen:  e.lastOpen,
			})
		}
		e.mu.Unlock()
	}
	return out
}

// RestoreCheckpoint rehydrates entries from a previous Checkpoint. Entries
// that fail to restore are skipped and will cold-start instead.
func (c *Cache) RestoreCheckpoint(entries []CheckpointEntry) int {
	restored := 0
	for _, ce := range entries {
		tf, ok := domrepo.NormalizeTimeframe(ce.Timeframe)
		if !ok {
			continue
		}
		ind := New(ce.Snapshot.Kind, ce.Snapshot.Period)
		if ind == nil {
			continue
		}
		if err := ind.Restore(ce.Snapshot); err != nil {
			continue
		}

		key := Key{Symbol: ce.Symbol, Timeframe: tf, Kind: ce.Snapshot.Kind, Period: ce.Snapshot.Period}
		e := &entry{ind: ind, lookback: ce.Snapshot.Period, lastOpen: ce.LastOpen, lastSeen: time.Now()}

		c.mu.Lock()
		if _, exists := c.entries[key]; !exists {
			c.entries[key] = e
			c.byGroup[key.group()] = append(c.byGroup[key.group()], key)
			restored++
		}
		c.mu.Unlock()
	}
	return restored
}
