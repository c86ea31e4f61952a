package indicator

import (
	"testing"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
)

func TestResamplerRollsUpToHourly(t *testing.T) {
	var closed []models.Candle
	r := NewResampler([]domrepo.Timeframe{domrepo.TF1h}, func(c models.Candle) {
		closed = append(closed, c)
	})

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	// Twelve 5m candles fill the 10:00 bucket; the first candle of 11:00
	// finalizes it.
	for i := 0; i < 12; i++ {
		r.Process(models.Candle{
			Symbol: "BTCUSDT", Timeframe: "5m",
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:     100 + float64(i), High: 110 + float64(i), Low: 90 - float64(i),
			Close: 100 + float64(i), Volume: 2,
		})
	}
	if len(closed) != 0 {
		t.Fatalf("bucket closed early: %d candles", len(closed))
	}

	r.Process(models.Candle{
		Symbol: "BTCUSDT", Timeframe: "5m",
		OpenTime: base.Add(time.Hour),
		Open:     200, High: 201, Low: 199, Close: 200, Volume: 1,
	})

	if len(closed) != 1 {
		t.Fatalf("closed candles = %d, want 1", len(closed))
	}
	hc := closed[0]
	if hc.Timeframe != "1h" || !hc.OpenTime.Equal(base) {
		t.Fatalf("bucket = %s %v, want 1h %v", hc.Timeframe, hc.OpenTime, base)
	}
	if hc.Open != 100 || hc.Close != 111 {
		t.Fatalf("open/close = %v/%v, want 100/111", hc.Open, hc.Close)
	}
	if hc.High != 121 || hc.Low != 79 {
		t.Fatalf("high/low = %v/%v, want 121/79", hc.High, hc.Low)
	}
	if hc.Volume != 24 {
		t.Fatalf("volume = %v, want 24", hc.Volume)
	}
}

func TestResamplerDropsLateCandle(t *testing.T) {
	var closed []models.Candle
	r := NewResampler([]domrepo.Timeframe{domrepo.TF1h}, func(c models.Candle) {
		closed = append(closed, c)
	})

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base.Add(time.Hour), Open: 50, High: 50, Low: 50, Close: 50})

	// A candle from the already-passed 10:00 bucket must not reopen it.
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base, Open: 999, High: 999, Low: 999, Close: 999})

	// Rolling into 12:00 finalizes the 11:00 bucket, untouched by the
	// late candle.
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base.Add(2 * time.Hour), Open: 60, High: 60, Low: 60, Close: 60})
	if len(closed) != 1 {
		t.Fatalf("closed candles = %d, want 1", len(closed))
	}
	if closed[0].Close != 50 {
		t.Fatalf("close = %v, want 50", closed[0].Close)
	}
}

// Shutdown must not pass a half-built bucket off as a closed bar.
func TestDiscardEmitsNothing(t *testing.T) {
	var closed []models.Candle
	r := NewResampler([]domrepo.Timeframe{domrepo.TF1h}, func(c models.Candle) {
		closed = append(closed, c)
	})

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base, Open: 1, High: 1, Low: 1, Close: 1})
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base.Add(5 * time.Minute), Open: 2, High: 2, Low: 2, Close: 2})

	r.Discard()
	if len(closed) != 0 {
		t.Fatalf("discard emitted %d candles, want 0", len(closed))
	}

	// After a discard the next candle starts a fresh bucket; the dropped
	// partial must not leak into it.
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base.Add(30 * time.Minute), Open: 7, High: 7, Low: 7, Close: 7})
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base.Add(time.Hour), Open: 8, High: 8, Low: 8, Close: 8})
	if len(closed) != 1 {
		t.Fatalf("closed candles = %d, want 1", len(closed))
	}
	if closed[0].Open != 7 || closed[0].Volume != 0 {
		t.Fatalf("fresh bucket carried discarded data: %+v", closed[0])
	}
}

func TestResamplerKeepsSymbolsIndependent(t *testing.T) {
	var closed []models.Candle
	r := NewResampler([]domrepo.Timeframe{domrepo.TF1h}, func(c models.Candle) {
		closed = append(closed, c)
	})

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base, Open: 1, High: 1, Low: 1, Close: 1})
	r.Process(models.Candle{Symbol: "ETHUSDT", OpenTime: base, Open: 2, High: 2, Low: 2, Close: 2})

	// Advancing BTC's bucket must not finalize ETH's.
	r.Process(models.Candle{Symbol: "BTCUSDT", OpenTime: base.Add(time.Hour), Open: 3, High: 3, Low: 3, Close: 3})

	if len(closed) != 1 || closed[0].Symbol != "BTCUSDT" {
		t.Fatalf("closed = %+v, want single BTCUSDT bucket", closed)
	}
}
