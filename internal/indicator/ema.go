package indicator

import (
	"strconv"

	"TriggerHub/internal/domain/models"
)

// EMA is an exponential moving average seeded with the SMA of the first
// period closes, then smoothed with k = 2/(period+1).
type EMA struct {
	period  int
	k       float64
	count   int
	seedSum float64
	current float64
}

func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period, k: 2.0 / (float64(period) + 1.0)}
}

func (e *EMA) Name() string { return "ema_" + strconv.Itoa(e.period) }

func (e *EMA) Update(c models.Candle) {
	e.count++
	if e.count <= e.period {
		e.seedSum += c.Close
		if e.count == e.period {
			e.current = e.seedSum / float64(e.period)
		}
		return
	}
	e.current = c.Close*e.k + e.current*(1.0-e.k)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

func (e *EMA) Snapshot() Snapshot {
	return Snapshot{Kind: models.IndicatorEMA, Period: e.period, Count: e.count, Sum: e.seedSum, Current: e.current}
}

func (e *EMA) Restore(snap Snapshot) error {
	if err := snap.check(models.IndicatorEMA, e.period); err != nil {
		return err
	}
	e.count = snap.Count
	e.seedSum = snap.Sum
	e.current = snap.Current
	return nil
}
