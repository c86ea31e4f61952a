// Package evaluator runs the recurring tick: every active condition is
// evaluated once per relevant tick, transitions are detected against the
// per-condition state, and qualifying false→true edges raise exactly one
// trigger event.
package evaluator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"TriggerHub/internal/condition"
	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	"TriggerHub/internal/indicator"
	applogger "TriggerHub/pkg/logger"
)

// TriggerSink receives one event per qualifying transition. The dispatcher
// implements it with a bounded non-blocking queue.
type TriggerSink interface {
	Publish(ctx context.Context, ev *models.TriggerEvent) error
}

// ConditionSource yields the current evaluation set.
type ConditionSource interface {
	ActiveConditions(ctx context.Context) ([]*models.Condition, error)
}

// Evaluator drives evaluation off candle-closed events plus a fallback
// interval ticker for quiet markets.
type Evaluator struct {
	source  ConditionSource
	cache   *indicator.Cache
	states  *StateStore
	sink    TriggerSink
	logger  *applogger.Logger
	metrics domrepo.Metrics

	debounce         time.Duration
	fallbackInterval time.Duration
	workers          chan struct{}
	now              func() time.Time

	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// EvalOption configures the Evaluator.
type EvalOption func(*Evaluator)

// WithDebounce sets the minimum silence after a trigger before the same
// condition may trigger again.
func WithDebounce(d time.Duration) EvalOption {
	return func(e *Evaluator) { e.debounce = d }
}

// WithFallbackInterval sets the poll period used when no candle-closed
// events arrive for a group.
func WithFallbackInterval(d time.Duration) EvalOption {
	return func(e *Evaluator) {
		if d > 0 {
			e.fallbackInterval = d
		}
	}
}

// WithWorkers bounds how many (symbol, timeframe) groups evaluate
// concurrently.
func WithWorkers(n int) EvalOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.workers = make(chan struct{}, n)
		}
	}
}

func withClock(now func() time.Time) EvalOption {
	return func(e *Evaluator) { e.now = now }
}

func New(source ConditionSource, cache *indicator.Cache, states *StateStore, sink TriggerSink, logger *applogger.Logger, metrics domrepo.Metrics, opts ...EvalOption) *Evaluator {
	e := &Evaluator{
		source:           source,
		cache:            cache,
		states:           states,
		sink:             sink,
		logger:           logger,
		metrics:          metrics,
		debounce:         30 * time.Second,
		fallbackInterval: time.Minute,
		workers:          make(chan struct{}, 8),
		now:              time.Now,
		quit:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the fallback ticker. Candle-driven ticks arrive via
// OnCandleClosed regardless.
func (e *Evaluator) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.fallbackInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.TickAll(ctx)
			}
		}
	}()
}

// Close stops scheduling new ticks and drains in-flight evaluations.
func (e *Evaluator) Close() {
	e.closeOnce.Do(func() { close(e.quit) })
	e.wg.Wait()
}

// OnCandleClosed folds the candle into the indicator cache and schedules
// an evaluation tick for its (symbol, timeframe) group.
func (e *Evaluator) OnCandleClosed(ctx context.Context, c *models.Candle) {
	// Feeds report exchange casing; conditions canonicalize to lowercase.
	c.Symbol = models.NormalizeSymbol(c.Symbol)
	e.cache.OnCandleClosed(ctx, c)

	tf, ok := domrepo.NormalizeTimeframe(c.Timeframe)
	if !ok {
		e.metrics.RecordError("unknown_timeframe")
		return
	}
	e.scheduleGroup(ctx, c.Symbol, tf)
}

// TickAll evaluates every group in the active set once. The fallback
// ticker calls it; tests call it directly for deterministic ticks.
func (e *Evaluator) TickAll(ctx context.Context) {
	conds, err := e.source.ActiveConditions(ctx)
	if err != nil {
		e.logger.Error("listing active conditions failed", applogger.Error(err))
		e.metrics.RecordError("list_active")
		return
	}

	seen := make(map[string]bool)
	for _, c := range conds {
		tf, ok := domrepo.NormalizeTimeframe(c.Timeframe)
		if !ok {
			continue
		}
		g := c.Symbol + ":" + string(tf)
		if seen[g] {
			continue
		}
		seen[g] = true
		e.scheduleGroup(ctx, c.Symbol, tf)
	}
}

func (e *Evaluator) scheduleGroup(ctx context.Context, symbol string, tf domrepo.Timeframe) {
	select {
	case <-e.quit:
		return
	case e.workers <- struct{}{}:
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.workers }()
		e.evaluateGroup(ctx, symbol, tf)
	}()
}

func (e *Evaluator) evaluateGroup(ctx context.Context, symbol string, tf domrepo.Timeframe) {
	start := e.now()
	group := symbol + ":" + string(tf)

	conds, err := e.source.ActiveConditions(ctx)
	if err != nil {
		e.logger.Error("listing active conditions failed", applogger.String("group", group), applogger.Error(err))
		e.metrics.RecordError("list_active")
		return
	}

	evaluated := 0
	for _, c := range conds {
		ctf, ok := domrepo.NormalizeTimeframe(c.Timeframe)
		if !ok || c.Symbol != symbol || ctf != tf {
			continue
		}
		e.evaluateCondition(ctx, c)
		evaluated++
	}

	e.metrics.RecordTick(group, e.now().Sub(start).Seconds(), evaluated)
}

// evaluateCondition runs one condition for the current tick. All operand
// values are resolved before any state mutation so a stale or missing
// entry skips the condition with its state untouched.
func (e *Evaluator) evaluateCondition(ctx context.Context, c *models.Condition) {
	now := e.now()

	switch c.Kind {
	case models.KindSingle:
		e.evalSingleCondition(ctx, c, now)
	case models.KindPlaybook:
		e.evalPlaybookCondition(ctx, c, now)
	default:
		e.metrics.RecordError("unsupported_kind")
		e.logger.Error("unsupported condition kind, never triggers",
			applogger.String("condition_id", c.ID),
			applogger.String("kind", string(c.Kind)))
	}
}

func (e *Evaluator) evalSingleCondition(ctx context.Context, c *models.Condition, now time.Time) {
	spec := c.Spec.Single
	if spec == nil {
		e.metrics.RecordError("unsupported_kind")
		return
	}

	left, right, values, err := e.resolveOperands(ctx, spec, c.Symbol, c.Spec.Timeframe, now)
	if err != nil {
		e.skip(c, err)
		return
	}

	st, release := e.states.Acquire(c.ID, 0)
	result, supported := evalPredicate(spec, left, right, &st.prevDiff, &st.hasPrev)
	if !supported {
		release()
		e.metrics.RecordError("unsupported_operator")
		e.logger.Error("unsupported operator, never triggers",
			applogger.String("condition_id", c.ID),
			applogger.String("operator", string(spec.Operator)))
		return
	}

	fire := e.commit(st, result, left, now)
	release()

	if fire {
		e.emit(ctx, c, values, now)
	}
}

func (e *Evaluator) evalPlaybookCondition(ctx context.Context, c *models.Condition, now time.Time) {
	pb := c.Spec.Playbook
	if pb == nil || len(pb.Legs) == 0 {
		e.metrics.RecordError("unsupported_kind")
		return
	}

	// Resolve every leg's operands up front; one stale leg skips the
	// whole playbook for this tick.
	type resolved struct {
		left, right float64
		barIndex    int64
	}
	legOps := make([]resolved, len(pb.Legs))
	values := make(map[string]float64)
	for i := range pb.Legs {
		leg := &pb.Legs[i]
		left, right, vals, err := e.resolveOperands(ctx, &leg.Single, c.Symbol, leg.Timeframe, now)
		if err != nil {
			e.skip(c, err)
			return
		}
		for k, v := range vals {
			values[k] = v
		}
		tf, _ := domrepo.NormalizeTimeframe(leg.Timeframe)
		legOps[i] = resolved{left: left, right: right, barIndex: e.cache.BarIndex(c.Symbol, tf)}
	}

	st, release := e.states.Acquire(c.ID, len(pb.Legs))

	// Legs run strictly in priority order; normalization already sorted
	// them ascending.
	hot := make([]bool, len(pb.Legs))
	for i := range pb.Legs {
		leg := &pb.Legs[i]
		ls := &st.Legs[i]

		result, supported := evalPredicate(&leg.Single, legOps[i].left, legOps[i].right, &ls.prevDiff, &ls.hasPrev)
		if !supported {
			release()
			e.metrics.RecordError("unsupported_operator")
			e.logger.Error("unsupported operator in playbook, never triggers",
				applogger.String("condition_id", c.ID),
				applogger.Int("leg", leg.Priority))
			return
		}
		if result {
			ls.EverTrue = true
			ls.TrueAt = now
			ls.TrueBar = legOps[i].barIndex
		}
		hot[i] = legHot(leg, ls, now, legOps[i].barIndex)
	}

	fire := e.commit(st, gateResult(pb.Gate, hot), legOps[0].left, now)
	release()

	if fire {
		e.emit(ctx, c, values, now)
	}
}

// commit applies the transition rules and updates state unconditionally.
// Returns whether a trigger fires this tick.
func (e *Evaluator) commit(st *EvaluationState, result bool, value float64, now time.Time) bool {
	fire := result && !st.LastBool && !now.Before(st.DebounceUntil)

	st.LastBool = result
	st.LastValue = value
	if result {
		st.LastTrueAt = now
	}
	if fire {
		st.DebounceUntil = now.Add(e.debounce)
	}
	return fire
}

func (e *Evaluator) emit(ctx context.Context, c *models.Condition, values map[string]float64, now time.Time) {
	ev := &models.TriggerEvent{
		EventID:     uuid.NewString(),
		ConditionID: c.ID,
		Symbol:      c.Symbol,
		Timeframe:   c.Spec.Timeframe,
		Snapshot:    values,
		OccurredAt:  now,
	}

	e.metrics.RecordTrigger(c.Symbol)
	e.logger.Info("condition triggered",
		applogger.String("condition_id", c.ID),
		applogger.String("event_id", ev.EventID),
		applogger.String("symbol", c.Symbol))

	if err := e.sink.Publish(ctx, ev); err != nil {
		e.metrics.RecordError("publish")
		e.logger.Error("trigger publish failed",
			applogger.String("event_id", ev.EventID), applogger.Error(err))
	}
}

// resolveOperands fetches the left indicator value and either the static
// threshold or the compare indicator value. Entries are created lazily;
// cold entries backfill bounded by the predicate's own lookback.
func (e *Evaluator) resolveOperands(ctx context.Context, spec *models.SingleSpec, symbol, timeframe string, now time.Time) (left, right float64, values map[string]float64, err error) {
	tf, ok := domrepo.NormalizeTimeframe(timeframe)
	if !ok {
		return 0, 0, nil, models.ErrValidation
	}

	lookback := condition.MaxLookback(&models.CanonicalSpec{
		Kind: models.KindSingle, Symbol: symbol, Timeframe: string(tf), Single: spec,
	})

	leftKey := indicator.Key{Symbol: symbol, Timeframe: tf, Kind: spec.Indicator, Period: spec.Period}
	if err := e.cache.Ensure(ctx, leftKey, lookback); err != nil {
		return 0, 0, nil, err
	}
	left, err = e.cache.Value(leftKey, now)
	if err != nil {
		return 0, 0, nil, err
	}

	values = map[string]float64{indicatorName(spec.Indicator, spec.Period): left}

	if spec.CompareIndicator == "" {
		return left, spec.Value, values, nil
	}

	rightKey := indicator.Key{Symbol: symbol, Timeframe: tf, Kind: spec.CompareIndicator, Period: spec.ComparePeriod}
	if err := e.cache.Ensure(ctx, rightKey, lookback); err != nil {
		return 0, 0, nil, err
	}
	right, err = e.cache.Value(rightKey, now)
	if err != nil {
		return 0, 0, nil, err
	}
	values[indicatorName(spec.CompareIndicator, spec.ComparePeriod)] = right
	return left, right, values, nil
}

func (e *Evaluator) skip(c *models.Condition, err error) {
	switch {
	case errors.Is(err, models.ErrStale), errors.Is(err, models.ErrNotReady), errors.Is(err, models.ErrDataUnavailable):
		e.metrics.RecordStaleSkip(c.Symbol + ":" + c.Spec.Timeframe)
		e.logger.Debug("condition skipped, indicator unavailable",
			applogger.String("condition_id", c.ID), applogger.Error(err))
	default:
		e.metrics.RecordError("evaluate")
		e.logger.Error("condition evaluation failed",
			applogger.String("condition_id", c.ID), applogger.Error(err))
	}
}

func indicatorName(kind models.IndicatorKind, period int) string {
	if kind == models.IndicatorPrice {
		return "price"
	}
	return string(kind) + "_" + strconv.Itoa(period)
}
