package engine

import (
	"math"

	"github.com/climasense/station-alert-worker/internal/db"
)

// Normalize converts a raw reading into an engineering-unit value using the
// owning parameter type's scale factor and offset. A nil factor defaults to
// 1.0, a nil offset to 0.0. Rounding to the type's decimal precision is a
// presentation concern of the caller; rule comparisons use full precision.
func Normalize(raw float64, pt *db.ParameterType) (float64, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, ErrInvalidMeasurement
	}

	factor := 1.0
	if pt.ScaleFactor != nil {
		factor = *pt.ScaleFactor
	}
	offset := 0.0
	if pt.ScaleOffset != nil {
		offset = *pt.ScaleOffset
	}

	return raw*factor + offset, nil
}
