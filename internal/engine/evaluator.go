package engine

import (
	"fmt"

	"github.com/climasense/station-alert-worker/internal/db"
)

// Evaluate reports whether the adjusted value makes the rule fire. Comparison
// uses IEEE-754 double semantics with no epsilon tolerance; == and != compare
// the full-precision adjusted value against the threshold.
//
// Rules are validated at creation time, so an unsupported operator here means
// the store holds a rule this version does not understand.
func Evaluate(adjusted float64, rule *db.AlertRule) (bool, error) {
	switch Operator(rule.Operator) {
	case OperatorGreater:
		return adjusted > rule.Threshold, nil
	case OperatorGreaterOrEqual:
		return adjusted >= rule.Threshold, nil
	case OperatorLess:
		return adjusted < rule.Threshold, nil
	case OperatorLessOrEqual:
		return adjusted <= rule.Threshold, nil
	case OperatorEqual:
		return adjusted == rule.Threshold, nil
	case OperatorNotEqual:
		return adjusted != rule.Threshold, nil
	default:
		return false, fmt.Errorf("rule %d: %w: %q", rule.ID, ErrUnsupportedOperator, rule.Operator)
	}
}
