package engine_test

import (
	"errors"
	"math"
	"testing"

	"github.com/climasense/station-alert-worker/internal/db"
	"github.com/climasense/station-alert-worker/internal/engine"
)

func floatPtr(v float64) *float64 { return &v }

func TestNormalize_Identity(t *testing.T) {
	pt := &db.ParameterType{ScaleFactor: floatPtr(1.0), ScaleOffset: floatPtr(0.0)}

	for _, raw := range []float64{-273.15, -1, 0, 0.5, 35, 1013.25} {
		adjusted, err := engine.Normalize(raw, pt)
		if err != nil {
			t.Fatalf("Normalize(%v) returned error: %v", raw, err)
		}
		if adjusted != raw {
			t.Errorf("Expected identity normalization of %v, got %v", raw, adjusted)
		}
	}
}

func TestNormalize_NilScalingDefaultsToIdentity(t *testing.T) {
	pt := &db.ParameterType{}

	adjusted, err := engine.Normalize(42.5, pt)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if adjusted != 42.5 {
		t.Errorf("Expected 42.5, got %v", adjusted)
	}
}

func TestNormalize_FactorAndOffset(t *testing.T) {
	// Celsius to Fahrenheit
	pt := &db.ParameterType{ScaleFactor: floatPtr(1.8), ScaleOffset: floatPtr(32.0)}

	adjusted, err := engine.Normalize(100, pt)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if adjusted != 212 {
		t.Errorf("Expected 212, got %v", adjusted)
	}
}

func TestNormalize_OffsetOnly(t *testing.T) {
	pt := &db.ParameterType{ScaleOffset: floatPtr(-0.5)}

	adjusted, err := engine.Normalize(10, pt)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if adjusted != 9.5 {
		t.Errorf("Expected 9.5, got %v", adjusted)
	}
}

func TestNormalize_NonFiniteValue(t *testing.T) {
	pt := &db.ParameterType{}

	for _, raw := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := engine.Normalize(raw, pt)
		if !errors.Is(err, engine.ErrInvalidMeasurement) {
			t.Errorf("Expected ErrInvalidMeasurement for %v, got %v", raw, err)
		}
	}
}
