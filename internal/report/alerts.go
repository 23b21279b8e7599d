package report

import (
	"context"
	"fmt"
	"time"
)

// AlertRow is one entry of the joined alert listing.
type AlertRow struct {
	ID           int64   `json:"id"`
	MeasureValue float64 `json:"measure_value"`
	RuleName     string  `json:"rule_name"`
	Severity     string  `json:"severity"`
	StationName  string  `json:"station_name"`
	CreatedAt    int64   `json:"created_at"`
	IsRead       bool    `json:"is_read"`
}

// AlertFilter narrows the alert listing. Nil fields are ignored.
type AlertFilter struct {
	From      *time.Time
	To        *time.Time
	StationID *int64
}

// ListAlerts returns alerts joined with their measurement, rule and station,
// newest first. An empty result set is a valid, empty list.
func (a *Aggregator) ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertRow, error) {
	var fromEpoch, toEpoch *int64
	if filter.From != nil {
		e := filter.From.Unix()
		fromEpoch = &e
	}
	if filter.To != nil {
		e := filter.To.Unix()
		toEpoch = &e
	}

	query := `
		SELECT al.id, m.value, r.name, r.severity, s.name, al.created_at, al.is_read
		FROM alerts al
		JOIN measurements m ON al.measurement_id = m.id
		JOIN alert_rules r ON al.rule_id = r.id
		JOIN parameters p ON r.parameter_id = p.id
		JOIN stations s ON p.station_id = s.id
		WHERE ($1::bigint IS NULL OR al.created_at >= $1)
		  AND ($2::bigint IS NULL OR al.created_at <= $2)
		  AND ($3::bigint IS NULL OR s.id = $3)
		ORDER BY al.created_at DESC, al.id DESC
	`

	rows, err := a.pool.Query(ctx, query, fromEpoch, toEpoch, filter.StationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var result []AlertRow
	for rows.Next() {
		var row AlertRow
		if err := rows.Scan(
			&row.ID,
			&row.MeasureValue,
			&row.RuleName,
			&row.Severity,
			&row.StationName,
			&row.CreatedAt,
			&row.IsRead,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return result, nil
}
