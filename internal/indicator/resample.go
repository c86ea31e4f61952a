package indicator

import (
	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
)

type forming struct {
	bucket int64
	candle models.Candle
}

// Resampler aggregates native-resolution closed candles into higher
// timeframes. A bucket is finalized when the first candle of the next
// bucket arrives, so emitted candles are always complete bars. Designed
// for a single consumer goroutine; no internal locking.
type Resampler struct {
	tfs    []domrepo.Timeframe
	states map[string]*forming

	// OnClose receives each finalized higher-timeframe candle.
	OnClose func(models.Candle)
}

// NewResampler builds a resampler for the given target timeframes. The
// native feed resolution must divide each target evenly.
func NewResampler(tfs []domrepo.Timeframe, onClose func(models.Candle)) *Resampler {
	return &Resampler{
		tfs:     tfs,
		states:  make(map[string]*forming, 64),
		OnClose: onClose,
	}
}

// Timeframes returns the configured target timeframes.
func (r *Resampler) Timeframes() []domrepo.Timeframe { return r.tfs }

// Process folds one native closed candle into every target timeframe,
// finalizing buckets as they roll over. Candles older than the forming
// bucket are dropped; the cache handles rebuilds for its own entries.
func (r *Resampler) Process(c models.Candle) {
	ts := c.OpenTime.Unix()

	for _, tf := range r.tfs {
		sec := int64(tf.Duration().Seconds())
		if sec <= 0 {
			continue
		}
		bucket := ts - ts%sec
		key := c.Symbol + ":" + string(tf)

		st, exists := r.states[key]
		if exists && bucket < st.bucket {
			continue
		}
		if exists && bucket > st.bucket {
			r.finalize(st)
			exists = false
		}

		if !exists {
			r.states[key] = &forming{
				bucket: bucket,
				candle: models.Candle{
					Symbol:    c.Symbol,
					Timeframe: string(tf),
					OpenTime:  c.OpenTime.Truncate(tf.Duration()),
					Open:      c.Open,
					High:      c.High,
					Low:       c.Low,
					Close:     c.Close,
					Volume:    c.Volume,
				},
			}
			continue
		}

		fc := &st.candle
		if c.High > fc.High {
			fc.High = c.High
		}
		if c.Low < fc.Low {
			fc.Low = c.Low
		}
		fc.Close = c.Close
		fc.Volume += c.Volume
	}
}

// Discard drops all forming buckets without emitting them. Called on
// shutdown: a partial bar is not a closed bar, and emitting one would
// poison the indicator state persisted right after.
func (r *Resampler) Discard() {
	r.states = make(map[string]*forming, 64)
}

func (r *Resampler) finalize(st *forming) {
	if r.OnClose != nil {
		r.OnClose(st.candle)
	}
}
