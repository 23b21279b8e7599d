package validator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/climasense/station-alert-worker/internal/engine"
	"github.com/climasense/station-alert-worker/tools/timeparser"
)

// ReadingData represents a single raw reading from an ingest message.
type ReadingData struct {
	ParameterID int64
	Date        string
	Value       string
}

// Validator checks raw readings before they reach the alert engine.
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified tolerance
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// ValidateReading parses and validates one raw reading. A value that cannot
// be interpreted as a finite number, or a timestamp outside the tolerance
// window, fails with engine.ErrInvalidMeasurement before any persistence.
func (v *Validator) ValidateReading(reading ReadingData, receivedAt time.Time) (float64, time.Time, error) {
	if reading.ParameterID <= 0 {
		return 0, time.Time{}, fmt.Errorf("%w: missing parameter id", engine.ErrInvalidMeasurement)
	}

	// Some station firmwares wrap the value in square brackets.
	rawValue := strings.Trim(reading.Value, "[]")
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", engine.ErrInvalidMeasurement, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, time.Time{}, fmt.Errorf("%w: non-finite value %q", engine.ErrInvalidMeasurement, reading.Value)
	}

	readingTime, err := timeparser.ParseReadingTimestamp(reading.Date)
	if err != nil {
		return value, receivedAt, fmt.Errorf("%w: %v", engine.ErrInvalidMeasurement, err)
	}

	if !timeparser.IsWithinTolerance(readingTime, receivedAt, v.timestampToleranceMinutes) {
		return value, readingTime, fmt.Errorf("%w: timestamp outside tolerance window (±%d minutes)",
			engine.ErrInvalidMeasurement, v.timestampToleranceMinutes)
	}

	return value, readingTime, nil
}
