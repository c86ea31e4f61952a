package indicator

import (
	"math"
	"strconv"

	"TriggerHub/internal/domain/models"
)

// ATR is the Average True Range with Wilder's smoothing, seeded with the
// simple average of the first period true ranges.
type ATR struct {
	period    int
	count     int
	prevClose float64
	seedSum   float64
	current   float64
}

func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period}
}

func (a *ATR) Name() string { return "atr_" + strconv.Itoa(a.period) }

func (a *ATR) Update(c models.Candle) {
	a.count++
	if a.count == 1 {
		a.prevClose = c.Close
		return
	}

	tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-a.prevClose), math.Abs(c.Low-a.prevClose)))
	a.prevClose = c.Close

	if a.count <= a.period+1 {
		a.seedSum += tr
		if a.count == a.period+1 {
			a.current = a.seedSum / float64(a.period)
		}
		return
	}

	p := float64(a.period)
	a.current = (a.current*(p-1) + tr) / p
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count > a.period }

func (a *ATR) Snapshot() Snapshot {
	return Snapshot{
		Kind: models.IndicatorATR, Period: a.period, Count: a.count,
		PrevClose: a.prevClose, Sum: a.seedSum, Current: a.current,
	}
}

func (a *ATR) Restore(snap Snapshot) error {
	if err := snap.check(models.IndicatorATR, a.period); err != nil {
		return err
	}
	a.count = snap.Count
	a.prevClose = snap.PrevClose
	a.seedSum = snap.Sum
	a.current = snap.Current
	return nil
}
