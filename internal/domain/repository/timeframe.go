package repository

import (
	"strings"
	"time"
)

// Timeframe is a candle bucket width. Conditions must declare theirs
// explicitly; nothing is inferred from the feed resolution.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var tfDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := tfDurations[tf]
	return ok
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1h }

// NormalizeTimeframe folds case variants ("1H", "1HR") onto the canonical
// form. Returns ok=false for anything outside the supported set.
func NormalizeTimeframe(s string) (Timeframe, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "1hr", "60m":
		v = "1h"
	case "1day", "24h":
		v = "1d"
	}
	tf := Timeframe(v)
	if IsValidTimeframe(tf) {
		return tf, true
	}
	return "", false
}

// Duration returns the bucket width. Zero for unknown timeframes.
func (tf Timeframe) Duration() time.Duration { return tfDurations[tf] }

// Truncate aligns t to the start of tf's bucket containing it.
func (tf Timeframe) Truncate(t time.Time) time.Time {
	d := tf.Duration()
	if d == 0 {
		return t
	}
	return t.UTC().Truncate(d)
}
