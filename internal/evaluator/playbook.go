package evaluator

import (
	"time"

	"TriggerHub/internal/domain/models"
)

// legHot reports whether a sub-condition is inside its validity window at
// the current tick. Bars are counted on the leg's own timeframe clock;
// seconds on the wall clock.
func legHot(leg *models.LegSpec, st *legState, now time.Time, barIndex int64) bool {
	if !st.EverTrue {
		return false
	}
	switch leg.ValidityUnit {
	case models.UnitBars:
		return barIndex-st.TrueBar <= int64(leg.ValidityDuration)
	case models.UnitSeconds:
		return now.Sub(st.TrueAt) <= time.Duration(leg.ValidityDuration)*time.Second
	default:
		return false
	}
}

// gateResult recomputes the playbook verdict from current hotness only.
// Prior tick booleans never leak in.
func gateResult(gate models.GateLogic, hot []bool) bool {
	switch gate {
	case models.GateAll:
		for _, h := range hot {
			if !h {
				return false
			}
		}
		return len(hot) > 0
	case models.GateAny:
		for _, h := range hot {
			if h {
				return true
			}
		}
		return false
	default:
		return false
	}
}
