package engine

// Operator is a threshold comparison operator carried on an alert rule.
type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
	OperatorEqual          Operator = "=="
	OperatorNotEqual       Operator = "!="
)

// Valid returns true when the operator is one of the six recognized symbols.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess,
		OperatorLessOrEqual, OperatorEqual, OperatorNotEqual:
		return true
	default:
		return false
	}
}

// Severity buckets carried on alert rules and reflected in aggregated counts.
const (
	SeverityRed    = "R"
	SeverityYellow = "Y"
	SeverityGreen  = "G"
)
