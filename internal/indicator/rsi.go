package indicator

import (
	"strconv"

	"TriggerHub/internal/domain/models"
)

// RSI is the Relative Strength Index with Wilder's smoothing. The first
// value is seeded from a simple average of the first period deltas, after
// which each Update is O(1).
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

func (r *RSI) Name() string { return "rsi_" + strconv.Itoa(r.period) }

func (r *RSI) Update(c models.Candle) {
	price := c.Close
	r.count++

	if r.count == 1 {
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = r.rsi()
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = r.rsi()
}

func (r *RSI) rsi() float64 {
	if r.avgLoss == 0 {
		return 100.0
	}
	rs := r.avgGain / r.avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

func (r *RSI) Snapshot() Snapshot {
	return Snapshot{
		Kind: models.IndicatorRSI, Period: r.period, Count: r.count,
		PrevClose: r.prevClose, AvgGain: r.avgGain, AvgLoss: r.avgLoss, Current: r.current,
	}
}

func (r *RSI) Restore(snap Snapshot) error {
	if err := snap.check(models.IndicatorRSI, r.period); err != nil {
		return err
	}
	r.count = snap.Count
	r.prevClose = snap.PrevClose
	r.avgGain = snap.AvgGain
	r.avgLoss = snap.AvgLoss
	r.current = snap.Current
	return nil
}
