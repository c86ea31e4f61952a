package evaluator

import (
	"TriggerHub/internal/domain/models"
)

// compare applies a threshold operator. Cross operators are handled
// separately because they need the previous tick's sign.
func compare(op models.Operator, left, right float64) (bool, bool) {
	switch op {
	case models.OpLT:
		return left < right, true
	case models.OpLTE:
		return left <= right, true
	case models.OpGT:
		return left > right, true
	case models.OpGTE:
		return left >= right, true
	default:
		return false, false
	}
}

// crossed evaluates cross_above / cross_below from the sign of
// left-right on consecutive ticks. The first tick only records the sign.
func crossed(op models.Operator, diff, prevDiff float64, hasPrev bool) (bool, bool) {
	switch op {
	case models.OpCrossAbove:
		return hasPrev && prevDiff <= 0 && diff > 0, true
	case models.OpCrossBelow:
		return hasPrev && prevDiff >= 0 && diff < 0, true
	default:
		return false, false
	}
}

// evalPredicate evaluates one canonical predicate given the resolved left
// and right operand values, reading and updating the cross-sign memory in
// place. Unknown operators fail closed.
func evalPredicate(s *models.SingleSpec, left, right float64, prevDiff *float64, hasPrev *bool) (result, supported bool) {
	if result, ok := compare(s.Operator, left, right); ok {
		return result, true
	}

	diff := left - right
	result, ok := crossed(s.Operator, diff, *prevDiff, *hasPrev)
	*prevDiff = diff
	*hasPrev = true
	return result, ok
}
