package indicator

import (
	"strconv"

	"TriggerHub/internal/domain/models"
)

// SMA is a simple moving average over closes, kept with a running sum and
// a ring buffer so each Update is O(1).
type SMA struct {
	period int
	window []float64
	head   int
	count  int
	sum    float64
}

func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{period: period, window: make([]float64, period)}
}

func (s *SMA) Name() string { return "sma_" + strconv.Itoa(s.period) }

func (s *SMA) Update(c models.Candle) {
	if s.count >= s.period {
		s.sum -= s.window[s.head]
	} else {
		s.count++
	}
	s.window[s.head] = c.Close
	s.sum += c.Close
	s.head = (s.head + 1) % s.period
}

func (s *SMA) Value() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func (s *SMA) Ready() bool { return s.count >= s.period }

func (s *SMA) Snapshot() Snapshot {
	window := make([]float64, len(s.window))
	copy(window, s.window)
	return Snapshot{Kind: models.IndicatorSMA, Period: s.period, Count: s.count, Head: s.head, Sum: s.sum, Window: window}
}

func (s *SMA) Restore(snap Snapshot) error {
	if err := snap.check(models.IndicatorSMA, s.period); err != nil {
		return err
	}
	s.count = snap.Count
	s.head = snap.Head
	s.sum = snap.Sum
	copy(s.window, snap.Window)
	return nil
}

// ClosePrice exposes the raw close as an indicator so price-threshold
// conditions go through the same evaluation path as everything else.
type ClosePrice struct {
	seen  bool
	close float64
}

func NewClosePrice() *ClosePrice { return &ClosePrice{} }

func (p *ClosePrice) Name() string { return "price" }

func (p *ClosePrice) Update(c models.Candle) {
	p.close = c.Close
	p.seen = true
}

func (p *ClosePrice) Value() float64 { return p.close }
func (p *ClosePrice) Ready() bool    { return p.seen }

func (p *ClosePrice) Snapshot() Snapshot {
	count := 0
	if p.seen {
		count = 1
	}
	return Snapshot{Kind: models.IndicatorPrice, Count: count, Current: p.close}
}

func (p *ClosePrice) Restore(snap Snapshot) error {
	if err := snap.check(models.IndicatorPrice, 0); err != nil {
		return err
	}
	p.seen = snap.Count > 0
	p.close = snap.Current
	return nil
}
