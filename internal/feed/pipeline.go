package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	"TriggerHub/internal/indicator"
	applogger "TriggerHub/pkg/logger"
)

// CandleSink receives validated closed candles; the evaluator implements it.
type CandleSink interface {
	OnCandleClosed(ctx context.Context, c *models.Candle)
}

// Pipeline sits between the feed stream and the evaluator. It validates
// incoming candles, forwards the native resolution, resamples higher
// timeframes and reconnects when the stream drops.
type Pipeline struct {
	feed      domrepo.MarketFeed
	sink      CandleSink
	resampler *indicator.Resampler
	logger    *applogger.Logger
	metrics   domrepo.Metrics

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

// PipelineOption configures the Pipeline.
type PipelineOption func(*Pipeline)

// NewPipeline wires the feed to the sink. higherTFs lists the resampled
// timeframes on top of the feed's native resolution.
func NewPipeline(feed domrepo.MarketFeed, sink CandleSink, higherTFs []domrepo.Timeframe, logger *applogger.Logger, metrics domrepo.Metrics, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		feed:    feed,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.resampler = indicator.NewResampler(higherTFs, func(c models.Candle) {
		p.sink.OnCandleClosed(context.Background(), &c)
	})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the consume loop. Reconnects run inside the loop; Stop or
// context cancellation ends it.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	for {
		candles, errs := p.feed.Candles(ctx)

	consume:
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case c, ok := <-candles:
				if !ok {
					break consume
				}
				p.process(ctx, c)
			case err, ok := <-errs:
				if !ok {
					break consume
				}
				p.logger.Error("feed stream broke", applogger.Error(err))
				p.metrics.RecordError("feed_stream")
				break consume
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		if err := p.feed.Reconnect(ctx); err != nil {
			p.logger.Error("feed reconnect failed", applogger.Error(err))
			p.metrics.RecordError("feed_reconnect")
		}
	}
}

// Stop ends the consume loop. Partially formed resample buckets are
// discarded, never emitted: only complete bars may reach the sink.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	_ = p.feed.Close()
	<-p.done
	p.resampler.Discard()
}

func (p *Pipeline) process(ctx context.Context, c *models.Candle) {
	start := time.Now()
	if err := validateCandle(c); err != nil {
		p.metrics.RecordError("feed_candle_invalid")
		p.logger.Warn("dropping invalid candle", applogger.Error(err))
		return
	}
	c.Symbol = models.NormalizeSymbol(c.Symbol)

	p.sink.OnCandleClosed(ctx, c)
	p.resampler.Process(*c)
	p.metrics.RecordLatency("candle_ingest", time.Since(start).Seconds())
}

func validateCandle(c *models.Candle) error {
	if c == nil {
		return fmt.Errorf("candle nil")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if c.OpenTime.IsZero() {
		return fmt.Errorf("open time zero")
	}
	if c.High < c.Low || c.Open < 0 || c.Close < 0 || c.Volume < 0 {
		return fmt.Errorf("inconsistent ohlcv")
	}
	return nil
}
