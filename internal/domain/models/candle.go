package models

import (
	"strings"
	"time"
)

// NormalizeSymbol folds a market symbol to its canonical form. Conditions
// and candles must agree on it for group keys and cache entries to line up.
func NormalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Candle is one closed OHLCV bar from the market data feed.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Key identifies the evaluation group a candle belongs to.
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Timeframe
}
