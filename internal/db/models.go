package db

import "time"

// Station represents a weather station that owns a set of parameters.
type Station struct {
	ID         int64
	Name       string
	IsActive   bool
	CreatedAt  time.Time
	LastUpdate *time.Time
}

// ParameterType is a reusable sensor-kind definition (e.g. temperature).
// ScaleFactor and ScaleOffset are applied to raw readings before rule
// evaluation; nil means identity (1.0 / 0.0).
type ParameterType struct {
	ID               int64
	Name             string
	MeasureUnit      string
	DecimalPrecision int
	ScaleFactor      *float64
	ScaleOffset      *float64
	IsActive         bool
	CreatedAt        time.Time
	LastUpdate       *time.Time
}

// Parameter binds a ParameterType to one station.
type Parameter struct {
	ID              int64
	StationID       int64
	ParameterTypeID int64
	IsActive        bool
}

// Measurement is one immutable sensor reading for a parameter.
// MeasuredAt is epoch seconds.
type Measurement struct {
	ID          int64
	ParameterID int64
	Value       float64
	MeasuredAt  int64
}

// AlertRule is a threshold definition bound to exactly one parameter.
// Operator is one of > >= < <= == !=, Severity one of R, Y, G.
type AlertRule struct {
	ID          int64
	ParameterID int64
	Name        string
	Threshold   float64
	Operator    string
	Severity    string
	IsActive    bool
	CreatedAt   time.Time
	LastUpdate  *time.Time
}

// RuleUpdate carries a partial update for an alert rule. Only non-nil
// fields are applied.
type RuleUpdate struct {
	ParameterID *int64
	Name        *string
	Threshold   *float64
	Operator    *string
	Severity    *string
}

// Alert records that a measurement caused a rule to fire.
// CreatedAt is epoch seconds.
type Alert struct {
	ID            int64
	MeasurementID int64
	RuleID        int64
	CreatedAt     int64
	IsRead        bool
}
