// Package condition turns raw condition specs into canonical, hashable
// form. Everything here is pure: no I/O, no clocks, no map iteration in
// serialization, so identical specs canonicalize identically across
// process restarts.
package condition

import (
	"fmt"
	"sort"
	"strings"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
)

// defaultPeriods documents the period applied when a spec omits one.
var defaultPeriods = map[models.IndicatorKind]int{
	models.IndicatorRSI:   14,
	models.IndicatorSMA:   20,
	models.IndicatorEMA:   20,
	models.IndicatorATR:   14,
	models.IndicatorPrice: 0,
}

var operatorSynonyms = map[string]models.Operator{
	"<":           models.OpLT,
	"lt":          models.OpLT,
	"<=":          models.OpLTE,
	"lte":         models.OpLTE,
	">":           models.OpGT,
	"gt":          models.OpGT,
	">=":          models.OpGTE,
	"gte":         models.OpGTE,
	"cross_above": models.OpCrossAbove,
	"crossabove":  models.OpCrossAbove,
	"cross_below": models.OpCrossBelow,
	"crossbelow":  models.OpCrossBelow,
}

// Normalize folds synonyms, fills defaults, and validates a raw spec into
// its canonical form. All failures wrap models.ErrValidation.
func Normalize(raw *models.RawConditionSpec) (*models.CanonicalSpec, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty spec", models.ErrValidation)
	}

	symbol := models.NormalizeSymbol(raw.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", models.ErrValidation)
	}

	tf, err := normalizeTF(raw.Timeframe, raw.TF, raw.Interval, "")
	if err != nil {
		return nil, err
	}

	kind, err := normalizeKind(raw)
	if err != nil {
		return nil, err
	}

	spec := &models.CanonicalSpec{
		Kind:      kind,
		Symbol:    symbol,
		Timeframe: tf,
	}

	switch kind {
	case models.KindSingle:
		single, err := normalizeSingle(raw.Indicator, raw.Period, raw.Operator, raw.Value, raw.CompareIndicator, raw.ComparePeriod)
		if err != nil {
			return nil, err
		}
		spec.Single = single
	case models.KindPlaybook:
		pb, err := normalizePlaybook(raw, tf)
		if err != nil {
			return nil, err
		}
		spec.Playbook = pb
	}

	return spec, nil
}

func normalizeKind(raw *models.RawConditionSpec) (models.Kind, error) {
	// "type" and "conditionType" are accepted synonyms of "kind".
	v := firstNonEmpty(raw.Kind, raw.Type, raw.ConditionType)
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "single", "condition":
		return models.KindSingle, nil
	case "playbook", "composite":
		return models.KindPlaybook, nil
	case "":
		// Default: playbook when legs are present, single otherwise.
		if len(raw.Legs) > 0 {
			return models.KindPlaybook, nil
		}
		return models.KindSingle, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", models.ErrValidation, v)
	}
}

func normalizeTF(candidates ...string) (string, error) {
	v := firstNonEmpty(candidates...)
	if v == "" {
		return "", fmt.Errorf("%w: timeframe required", models.ErrValidation)
	}
	tf, ok := domrepo.NormalizeTimeframe(v)
	if !ok {
		return "", fmt.Errorf("%w: unsupported timeframe %q", models.ErrValidation, v)
	}
	return string(tf), nil
}

func normalizeSingle(indicator string, period *int, operator string, value *float64, cmpInd string, cmpPeriod *int) (*models.SingleSpec, error) {
	ind, err := normalizeIndicator(indicator)
	if err != nil {
		return nil, err
	}

	p := resolvePeriod(ind, period)
	if p < 0 || (p == 0 && ind != models.IndicatorPrice) {
		// Price has no lookback; every other indicator needs one, and
		// accepting 0 here would mint a second id for the same condition
		// once the engine clamps it.
		return nil, fmt.Errorf("%w: period must be positive", models.ErrValidation)
	}

	op, ok := operatorSynonyms[strings.ToLower(strings.TrimSpace(operator))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operator %q", models.ErrValidation, operator)
	}

	s := &models.SingleSpec{Indicator: ind, Period: p, Operator: op}

	if strings.TrimSpace(cmpInd) != "" {
		ci, err := normalizeIndicator(cmpInd)
		if err != nil {
			return nil, err
		}
		cp := resolvePeriod(ci, cmpPeriod)
		if cp < 0 || (cp == 0 && ci != models.IndicatorPrice) {
			return nil, fmt.Errorf("%w: compare period must be positive", models.ErrValidation)
		}
		s.CompareIndicator = ci
		s.ComparePeriod = cp
	} else {
		if value == nil {
			return nil, fmt.Errorf("%w: value or compare_indicator required", models.ErrValidation)
		}
		s.Value = *value
	}

	return s, nil
}

func normalizePlaybook(raw *models.RawConditionSpec, parentTF string) (*models.PlaybookSpec, error) {
	if len(raw.Legs) == 0 {
		return nil, fmt.Errorf("%w: playbook requires at least one sub-condition", models.ErrValidation)
	}

	gate := models.GateLogic(strings.ToUpper(strings.TrimSpace(raw.Gate)))
	if gate == "" {
		gate = models.GateAll
	}
	if gate != models.GateAll && gate != models.GateAny {
		return nil, fmt.Errorf("%w: gate_logic must be ALL or ANY", models.ErrValidation)
	}

	legs := make([]models.LegSpec, 0, len(raw.Legs))
	seen := make(map[int]bool, len(raw.Legs))
	for i, rl := range raw.Legs {
		single, err := normalizeSingle(rl.Indicator, rl.Period, rl.Operator, rl.Value, rl.CompareIndicator, rl.ComparePeriod)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}

		tf := parentTF
		if v := firstNonEmpty(rl.Timeframe, rl.TF, rl.Interval); v != "" {
			tf, err = normalizeTF(v)
			if err != nil {
				return nil, fmt.Errorf("leg %d: %w", i, err)
			}
		}

		if seen[rl.Priority] {
			return nil, fmt.Errorf("%w: duplicate priority %d", models.ErrValidation, rl.Priority)
		}
		seen[rl.Priority] = true

		if rl.ValidityDuration <= 0 {
			return nil, fmt.Errorf("%w: leg %d: validity_duration must be positive", models.ErrValidation, i)
		}
		unit := models.ValidityUnit(strings.ToLower(strings.TrimSpace(rl.ValidityUnit)))
		if unit != models.UnitBars && unit != models.UnitSeconds {
			return nil, fmt.Errorf("%w: leg %d: validity_unit must be bars or seconds", models.ErrValidation, i)
		}

		legs = append(legs, models.LegSpec{
			Single:           *single,
			Timeframe:        tf,
			Priority:         rl.Priority,
			ValidityDuration: rl.ValidityDuration,
			ValidityUnit:     unit,
		})
	}

	// Priority is a total evaluation order, not boolean weight.
	sort.Slice(legs, func(i, j int) bool { return legs[i].Priority < legs[j].Priority })

	return &models.PlaybookSpec{Gate: gate, Legs: legs}, nil
}

func normalizeIndicator(s string) (models.IndicatorKind, error) {
	ind := models.IndicatorKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := defaultPeriods[ind]; !ok {
		return "", fmt.Errorf("%w: unknown indicator %q", models.ErrValidation, s)
	}
	return ind, nil
}

func resolvePeriod(ind models.IndicatorKind, period *int) int {
	if period != nil {
		return *period
	}
	return defaultPeriods[ind]
}

// MaxLookback reports the largest indicator lookback a canonical spec
// needs, used to bound cold-start backfills.
func MaxLookback(spec *models.CanonicalSpec) int {
	max := 1
	consider := func(s *models.SingleSpec) {
		if s == nil {
			return
		}
		if s.Period > max {
			max = s.Period
		}
		if s.ComparePeriod > max {
			max = s.ComparePeriod
		}
	}
	if spec.Single != nil {
		consider(spec.Single)
	}
	if spec.Playbook != nil {
		for i := range spec.Playbook.Legs {
			consider(&spec.Playbook.Legs[i].Single)
		}
	}
	return max
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
