package indicator

import (
	"fmt"

	"TriggerHub/internal/domain/models"
)

// Snapshot is the serializable state of one indicator instance, persisted
// at shutdown so warm entries survive a restart without a full backfill.
type Snapshot struct {
	Kind      models.IndicatorKind `json:"kind"`
	Period    int                  `json:"period"`
	Count     int                  `json:"count"`
	Head      int                  `json:"head,omitempty"`
	Sum       float64              `json:"sum,omitempty"`
	Window    []float64            `json:"window,omitempty"`
	PrevClose float64              `json:"prev_close,omitempty"`
	AvgGain   float64              `json:"avg_gain,omitempty"`
	AvgLoss   float64              `json:"avg_loss,omitempty"`
	Current   float64              `json:"current,omitempty"`
}

func (s Snapshot) check(kind models.IndicatorKind, period int) error {
	if s.Kind != kind {
		return fmt.Errorf("snapshot kind mismatch: have %s, want %s", s.Kind, kind)
	}
	if s.Period != period {
		return fmt.Errorf("snapshot period mismatch: have %d, want %d", s.Period, period)
	}
	return nil
}
