package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Aggregator is the read side over alerts, rules and measurements. All
// operations are read-only and return zero values, never errors, for empty
// result sets.
type Aggregator struct {
	pool *pgxpool.Pool
}

// NewAggregator creates a new aggregator
func NewAggregator(pool *pgxpool.Pool) *Aggregator {
	return &Aggregator{pool: pool}
}

// SeverityCounts holds unread-alert counts per severity bucket. Buckets with
// no alerts are explicit zeros.
type SeverityCounts struct {
	Red    int64 `json:"R"`
	Yellow int64 `json:"Y"`
	Green  int64 `json:"G"`
}

// RuleCount is the number of unread alerts for one active rule name.
type RuleCount struct {
	Name  string `json:"name"`
	Total int64  `json:"total"`
}

// StationStatus holds total and active station counts.
type StationStatus struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

// HistoryPoint is one measurement of a station, labeled with its parameter
// type metadata. MeasuredAt is epoch seconds.
type HistoryPoint struct {
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	MeasuredAt int64   `json:"measured_at"`
}

// LastMeasurement is the most recent measurement of one station parameter.
type LastMeasurement struct {
	ParameterID int64   `json:"parameter_id"`
	Label       string  `json:"label"`
	Unit        string  `json:"unit"`
	Value       float64 `json:"value"`
	MeasuredAt  int64   `json:"measured_at"`
}

// MeasureCount is the measurement count for one parameter type name.
type MeasureCount struct {
	Label string `json:"label"`
	Total int64  `json:"total"`
}

// CountBySeverity counts unread alerts whose owning rule is active, grouped
// by severity, optionally scoped to one station's parameters.
func (a *Aggregator) CountBySeverity(ctx context.Context, stationID *int64) (SeverityCounts, error) {
	query := `
		SELECT r.severity, COUNT(*)
		FROM alerts al
		JOIN alert_rules r ON al.rule_id = r.id
		JOIN parameters p ON r.parameter_id = p.id
		WHERE al.is_read = false AND r.is_active = true
		  AND ($1::bigint IS NULL OR p.station_id = $1)
		GROUP BY r.severity
	`

	rows, err := a.pool.Query(ctx, query, stationID)
	if err != nil {
		return SeverityCounts{}, fmt.Errorf("failed to query severity counts: %w", err)
	}
	defer rows.Close()

	var counts SeverityCounts
	for rows.Next() {
		var severity string
		var total int64
		if err := rows.Scan(&severity, &total); err != nil {
			return SeverityCounts{}, fmt.Errorf("failed to scan severity count: %w", err)
		}
		bucketSeverity(&counts, severity, total)
	}

	if err := rows.Err(); err != nil {
		return SeverityCounts{}, fmt.Errorf("rows iteration error: %w", err)
	}
	return counts, nil
}

// bucketSeverity folds one grouped severity row into the counts. Buckets the
// query returned no row for keep their zero value; an unknown severity is
// ignored rather than failing the whole aggregate.
func bucketSeverity(counts *SeverityCounts, severity string, total int64) {
	switch severity {
	case "R":
		counts.Red = total
	case "Y":
		counts.Yellow = total
	case "G":
		counts.Green = total
	}
}

// DistributionByRuleName counts unread alerts per active rule name,
// descending by total, ties broken by name so the output is deterministic.
func (a *Aggregator) DistributionByRuleName(ctx context.Context, stationID *int64) ([]RuleCount, error) {
	query := `
		SELECT r.name, COUNT(al.id) AS total
		FROM alert_rules r
		JOIN parameters p ON r.parameter_id = p.id
		LEFT JOIN alerts al ON al.rule_id = r.id AND al.is_read = false
		WHERE r.is_active = true
		  AND ($1::bigint IS NULL OR p.station_id = $1)
		GROUP BY r.name
		ORDER BY total DESC, r.name ASC
	`

	rows, err := a.pool.Query(ctx, query, stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule distribution: %w", err)
	}
	defer rows.Close()

	var result []RuleCount
	for rows.Next() {
		var rc RuleCount
		if err := rows.Scan(&rc.Name, &rc.Total); err != nil {
			return nil, fmt.Errorf("failed to scan rule count: %w", err)
		}
		result = append(result, rc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return result, nil
}

// Stations returns total and active station counts.
func (a *Aggregator) Stations(ctx context.Context) (StationStatus, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM stations
	`

	var status StationStatus
	if err := a.pool.QueryRow(ctx, query).Scan(&status.Total, &status.Active); err != nil {
		return StationStatus{}, fmt.Errorf("failed to query station status: %w", err)
	}
	return status, nil
}

// HistoryForStation lists the measurements of all parameters of a station,
// newest first, optionally bounded in time. A to bound given at midnight is
// expanded to the end of that day.
func (a *Aggregator) HistoryForStation(ctx context.Context, stationID int64, from, to *time.Time) ([]HistoryPoint, error) {
	var fromEpoch, toEpoch *int64
	if from != nil {
		e := from.Unix()
		fromEpoch = &e
	}
	if to != nil {
		e := to.Unix()
		if to.Hour() == 0 && to.Minute() == 0 && to.Second() == 0 {
			e += 24*60*60 - 1
		}
		toEpoch = &e
	}

	query := `
		SELECT pt.name, m.value, pt.measure_unit, m.measured_at
		FROM measurements m
		JOIN parameters p ON m.parameter_id = p.id
		JOIN parameter_types pt ON p.parameter_type_id = pt.id
		WHERE p.station_id = $1
		  AND ($2::bigint IS NULL OR m.measured_at >= $2)
		  AND ($3::bigint IS NULL OR m.measured_at <= $3)
		ORDER BY m.measured_at DESC
	`

	rows, err := a.pool.Query(ctx, query, stationID, fromEpoch, toEpoch)
	if err != nil {
		return nil, fmt.Errorf("failed to query station history: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var hp HistoryPoint
		if err := rows.Scan(&hp.Label, &hp.Value, &hp.Unit, &hp.MeasuredAt); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		points = append(points, hp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return points, nil
}

// LastMeasurementsForStation returns the single most recent measurement per
// parameter of the station. Parameters with no measurements are omitted.
func (a *Aggregator) LastMeasurementsForStation(ctx context.Context, stationID int64) ([]LastMeasurement, error) {
	query := `
		SELECT DISTINCT ON (m.parameter_id)
		       m.parameter_id, pt.name, pt.measure_unit, m.value, m.measured_at
		FROM measurements m
		JOIN parameters p ON m.parameter_id = p.id
		JOIN parameter_types pt ON p.parameter_type_id = pt.id
		WHERE p.station_id = $1
		ORDER BY m.parameter_id, m.measured_at DESC
	`

	rows, err := a.pool.Query(ctx, query, stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query last measurements: %w", err)
	}
	defer rows.Close()

	var result []LastMeasurement
	for rows.Next() {
		var lm LastMeasurement
		if err := rows.Scan(&lm.ParameterID, &lm.Label, &lm.Unit, &lm.Value, &lm.MeasuredAt); err != nil {
			return nil, fmt.Errorf("failed to scan last measurement: %w", err)
		}
		result = append(result, lm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return result, nil
}

// MeasuresStatus counts measurements grouped by parameter type name.
func (a *Aggregator) MeasuresStatus(ctx context.Context) ([]MeasureCount, error) {
	query := `
		SELECT pt.name, COUNT(m.id)
		FROM measurements m
		JOIN parameters p ON m.parameter_id = p.id
		JOIN parameter_types pt ON p.parameter_type_id = pt.id
		GROUP BY pt.name
		ORDER BY pt.name
	`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query measures status: %w", err)
	}
	defer rows.Close()

	var result []MeasureCount
	for rows.Next() {
		var mc MeasureCount
		if err := rows.Scan(&mc.Label, &mc.Total); err != nil {
			return nil, fmt.Errorf("failed to scan measure count: %w", err)
		}
		result = append(result, mc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return result, nil
}
