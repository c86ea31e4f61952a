package indicator

import (
	"math"
	"testing"
	"time"

	"TriggerHub/internal/domain/models"
)

func candleAt(close float64, openTime time.Time) models.Candle {
	return models.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		OpenTime:  openTime,
		Open:      close,
		High:      close + 5,
		Low:       close - 5,
		Close:     close,
		Volume:    1,
	}
}

func closeCandle(close float64) models.Candle {
	return candleAt(close, time.Time{})
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%s: got %.6f, want %.6f", label, got, want)
	}
}

func TestSMAHandCalculated(t *testing.T) {
	// SMA(3) over 100, 102, 104, 103, 105:
	// after 3rd: 102.0, after 4th: 103.0, after 5th: 104.0
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	want := []float64{0, 0, 102, 103, 104}

	for i, p := range prices {
		sma.Update(closeCandle(p))
		if ready := i >= 2; sma.Ready() != ready {
			t.Fatalf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready)
		}
		if i >= 2 {
			assertClose(t, "sma", sma.Value(), want[i], 1e-9)
		}
	}
}

func TestEMASeedAndSmooth(t *testing.T) {
	// EMA(3): seed = SMA of first 3 = (10+11+12)/3 = 11.
	// k = 0.5, next close 14: 14*0.5 + 11*0.5 = 12.5.
	ema := NewEMA(3)
	for _, p := range []float64{10, 11, 12} {
		ema.Update(closeCandle(p))
	}
	assertClose(t, "ema seed", ema.Value(), 11, 1e-9)

	ema.Update(closeCandle(14))
	assertClose(t, "ema smooth", ema.Value(), 12.5, 1e-9)
}

func TestRSIAllGainsIs100(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 20; i++ {
		rsi.Update(closeCandle(100 + float64(i)))
	}
	if !rsi.Ready() {
		t.Fatal("rsi not ready after 20 candles")
	}
	assertClose(t, "rsi monotonic up", rsi.Value(), 100, 1e-9)
}

func TestRSIWilderSeries(t *testing.T) {
	// Classic Wilder worked example over 15 closes; RSI(14) after the
	// seed window is 70.46 to two decimals.
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28,
	}
	rsi := NewRSI(14)
	for _, p := range closes {
		rsi.Update(closeCandle(p))
	}
	if !rsi.Ready() {
		t.Fatal("rsi not ready after seed window")
	}
	assertClose(t, "rsi wilder", rsi.Value(), 70.46, 0.05)
}

func TestATRConstantRange(t *testing.T) {
	// Every candle has high-low = 10 and close = prev close, so every
	// true range is 10 and ATR converges to exactly 10.
	atr := NewATR(5)
	for i := 0; i < 12; i++ {
		atr.Update(models.Candle{Symbol: "BTCUSDT", High: 105, Low: 95, Close: 100})
	}
	if !atr.Ready() {
		t.Fatal("atr not ready")
	}
	assertClose(t, "atr", atr.Value(), 10, 1e-9)
}

func TestClosePriceTracksLastClose(t *testing.T) {
	p := NewClosePrice()
	if p.Ready() {
		t.Fatal("price ready before any candle")
	}
	p.Update(closeCandle(123.45))
	if !p.Ready() || p.Value() != 123.45 {
		t.Fatalf("price: ready=%v value=%v", p.Ready(), p.Value())
	}
}

func TestFactoryFailsClosedOnUnknownKind(t *testing.T) {
	if ind := New(models.IndicatorKind("vwap"), 14); ind != nil {
		t.Fatalf("unknown kind produced %T, want nil", ind)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	series := []float64{100, 101, 99, 102, 104, 103, 105, 107, 106, 108, 110, 109, 111, 112, 114, 113}

	kinds := []models.IndicatorKind{models.IndicatorSMA, models.IndicatorEMA, models.IndicatorRSI, models.IndicatorATR}
	for _, kind := range kinds {
		orig := New(kind, 5)
		for _, p := range series {
			orig.Update(closeCandle(p))
		}

		restored := New(kind, 5)
		if err := restored.Restore(orig.Snapshot()); err != nil {
			t.Fatalf("%s: restore: %v", kind, err)
		}

		// Both instances must agree now and keep agreeing as new
		// candles arrive.
		assertClose(t, string(kind)+" restored", restored.Value(), orig.Value(), 1e-12)
		for _, p := range []float64{115, 114, 116} {
			orig.Update(closeCandle(p))
			restored.Update(closeCandle(p))
			assertClose(t, string(kind)+" post-restore", restored.Value(), orig.Value(), 1e-12)
		}
	}
}

func TestRestoreRejectsMismatch(t *testing.T) {
	rsi := NewRSI(14)
	rsi.Update(closeCandle(100))

	other := NewRSI(7)
	if err := other.Restore(rsi.Snapshot()); err == nil {
		t.Fatal("restore accepted a snapshot with a different period")
	}

	sma := NewSMA(14)
	if err := sma.Restore(rsi.Snapshot()); err == nil {
		t.Fatal("restore accepted a snapshot from a different kind")
	}
}
