package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	applogger "TriggerHub/pkg/logger"
)

type scriptedFeed struct {
	mu         sync.Mutex
	candles    chan *models.Candle
	errs       chan error
	reconnects int
	closed     bool
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{
		candles: make(chan *models.Candle, 64),
		errs:    make(chan error, 1),
	}
}

func (f *scriptedFeed) Connect(context.Context) error             { return nil }
func (f *scriptedFeed) Subscribe(context.Context, []string) error { return nil }
func (f *scriptedFeed) Candles(context.Context) (<-chan *models.Candle, <-chan error) {
	return f.candles, f.errs
}
func (f *scriptedFeed) Backfill(context.Context, string, domrepo.Timeframe, int) ([]models.Candle, error) {
	return nil, nil
}
func (f *scriptedFeed) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	f.candles = make(chan *models.Candle, 64)
	f.errs = make(chan error, 1)
	return nil
}
func (f *scriptedFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.candles)
	}
	return nil
}
func (f *scriptedFeed) IsConnected() bool { return true }

type captureSink struct {
	mu      sync.Mutex
	candles []models.Candle
}

func (s *captureSink) OnCandleClosed(_ context.Context, c *models.Candle) {
	s.mu.Lock()
	s.candles = append(s.candles, *c)
	s.mu.Unlock()
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candles)
}

func (s *captureSink) byTimeframe(tf string) []models.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Candle
	for _, c := range s.candles {
		if c.Timeframe == tf {
			out = append(out, c)
		}
	}
	return out
}

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
	l, err := applogger.New(&applogger.Config{Level: "fatal", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func minuteCandle(symbol string, minute int, close float64) *models.Candle {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &models.Candle{
		Symbol: symbol, Timeframe: "1m",
		OpenTime: base.Add(time.Duration(minute) * time.Minute),
		Open:     close, High: close + 1, Low: close - 1, Close: close, Volume: 1,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPipelineForwardsNativeAndResampled(t *testing.T) {
	fd := newScriptedFeed()
	sink := &captureSink{}
	p := NewPipeline(fd, sink, []domrepo.Timeframe{domrepo.TF5m}, testLogger(t), nopMetrics{})
	p.Start(context.Background())
	defer p.Stop()

	// Five 1m candles fill one 5m bucket; the sixth closes it.
	for i := 0; i <= 5; i++ {
		fd.candles <- minuteCandle("BTCUSDT", i, 100+float64(i))
	}

	waitFor(t, func() bool { return len(sink.byTimeframe("1m")) == 6 })
	waitFor(t, func() bool { return len(sink.byTimeframe("5m")) == 1 })

	rolled := sink.byTimeframe("5m")[0]
	if rolled.Open != 100 || rolled.Close != 104 || rolled.Volume != 5 {
		t.Fatalf("rolled candle = %+v, want open 100 close 104 volume 5", rolled)
	}
}

// Shutdown must not hand half-built resample buckets to the sink; a
// partial bar there would be checkpointed as if it had closed.
func TestPipelineStopDropsFormingBuckets(t *testing.T) {
	fd := newScriptedFeed()
	sink := &captureSink{}
	p := NewPipeline(fd, sink, []domrepo.Timeframe{domrepo.TF5m}, testLogger(t), nopMetrics{})
	p.Start(context.Background())

	// Three 1m candles only partially fill the 5m bucket.
	for i := 0; i < 3; i++ {
		fd.candles <- minuteCandle("BTCUSDT", i, 100+float64(i))
	}
	waitFor(t, func() bool { return len(sink.byTimeframe("1m")) == 3 })

	p.Stop()
	if got := len(sink.byTimeframe("5m")); got != 0 {
		t.Fatalf("stop emitted %d partial 5m bars, want 0", got)
	}
}

func TestPipelineDropsInvalidCandles(t *testing.T) {
	fd := newScriptedFeed()
	sink := &captureSink{}
	p := NewPipeline(fd, sink, nil, testLogger(t), nopMetrics{})
	p.Start(context.Background())
	defer p.Stop()

	fd.candles <- &models.Candle{Symbol: "", OpenTime: time.Now()}
	fd.candles <- minuteCandle("BTCUSDT", 0, 100)

	waitFor(t, func() bool { return len(sink.byTimeframe("1m")) == 1 })
	if got := sink.count(); got != 1 {
		t.Fatalf("forwarded candles = %d, want 1", got)
	}
}

func TestPipelineReconnectsOnStreamError(t *testing.T) {
	fd := newScriptedFeed()
	sink := &captureSink{}
	p := NewPipeline(fd, sink, nil, testLogger(t), nopMetrics{})
	p.Start(context.Background())
	defer p.Stop()

	fd.errs <- errors.New("connection reset")

	waitFor(t, func() bool {
		fd.mu.Lock()
		defer fd.mu.Unlock()
		return fd.reconnects >= 1
	})

	// The fresh stream after reconnect keeps feeding the sink.
	fd.mu.Lock()
	ch := fd.candles
	fd.mu.Unlock()
	ch <- minuteCandle("BTCUSDT", 0, 100)
	waitFor(t, func() bool { return len(sink.byTimeframe("1m")) == 1 })
}
