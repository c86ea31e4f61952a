package usecase

import (
	"context"

	domrepo "TriggerHub/internal/domain/repository"
	"TriggerHub/internal/feed"
)

// CandleCollector owns the feed lifecycle: connect, subscribe the symbols
// under evaluation, and run the ingest pipeline that feeds the evaluator.
type CandleCollector struct {
	stream  domrepo.MarketFeed
	pipe    *feed.Pipeline
	symbols []string
}

func NewCandleCollector(stream domrepo.MarketFeed, pipe *feed.Pipeline, symbols []string) *CandleCollector {
	return &CandleCollector{stream: stream, pipe: pipe, symbols: symbols}
}

// IsConnected reports whether the upstream feed is connected.
func (c *CandleCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *CandleCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx, c.symbols); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	return nil
}

// Shutdown stops the pipeline and closes the stream.
func (c *CandleCollector) Shutdown() error {
	c.pipe.Stop()
	return c.stream.Close()
}
