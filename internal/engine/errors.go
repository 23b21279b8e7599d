package engine

import "errors"

// Sentinel errors returned by engine operations. Callers discriminate with
// errors.Is; anything else is an infrastructure failure and the whole unit
// of work has been rolled back.
var (
	// ErrNotFound means a referenced parameter, rule or alert does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means an active rule with the same parameter, name,
	// threshold and operator already exists.
	ErrConflict = errors.New("duplicate alert rule")

	// ErrUnsupportedOperator means the rule operator is not one of the six
	// recognized comparison symbols. Rejected at rule creation/update time,
	// never deferred to evaluation.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrInvalidMeasurement means the raw value cannot be interpreted as a
	// finite number. Rejected before any persistence.
	ErrInvalidMeasurement = errors.New("invalid measurement value")

	// ErrInactive means the target parameter or its parameter type is
	// disabled; ingestion against it is rejected.
	ErrInactive = errors.New("parameter is inactive")
)
