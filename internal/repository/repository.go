package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/climasense/station-alert-worker/internal/db"
	"github.com/climasense/station-alert-worker/internal/engine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the pgx-backed store for stations, parameters, measurements,
// alert rules and alerts. It satisfies engine.Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ engine.Store = (*Repository)(nil)

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (engine.Tx, error) {
	return r.pool.Begin(ctx)
}

// txOf unwraps the engine.Tx handed back by BeginTx.
func txOf(tx engine.Tx) (pgx.Tx, error) {
	pgtx, ok := tx.(pgx.Tx)
	if !ok {
		return nil, fmt.Errorf("unexpected transaction type %T", tx)
	}
	return pgtx, nil
}

// GetParameter loads one parameter; returns (nil, nil) when it does not exist.
func (r *Repository) GetParameter(ctx context.Context, id int64) (*db.Parameter, error) {
	query := `
		SELECT id, station_id, parameter_type_id, is_active
		FROM parameters
		WHERE id = $1
	`

	var p db.Parameter
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.StationID, &p.ParameterTypeID, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter: %w", err)
	}
	return &p, nil
}

// GetParameterTx loads one parameter within the transaction, locking its row
// until the transaction resolves. Returns (nil, nil) when it does not exist.
func (r *Repository) GetParameterTx(ctx context.Context, tx engine.Tx, id int64) (*db.Parameter, error) {
	pgtx, err := txOf(tx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, station_id, parameter_type_id, is_active
		FROM parameters
		WHERE id = $1
		FOR UPDATE
	`

	var p db.Parameter
	err = pgtx.QueryRow(ctx, query, id).Scan(&p.ID, &p.StationID, &p.ParameterTypeID, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter: %w", err)
	}
	return &p, nil
}

// GetParameterType loads one parameter type; returns (nil, nil) when it does
// not exist.
func (r *Repository) GetParameterType(ctx context.Context, id int64) (*db.ParameterType, error) {
	query := `
		SELECT id, name, measure_unit, decimal_precision, scale_factor, scale_offset,
		       is_active, created_at, last_update
		FROM parameter_types
		WHERE id = $1
	`

	var pt db.ParameterType
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&pt.ID,
		&pt.Name,
		&pt.MeasureUnit,
		&pt.DecimalPrecision,
		&pt.ScaleFactor,
		&pt.ScaleOffset,
		&pt.IsActive,
		&pt.CreatedAt,
		&pt.LastUpdate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter type: %w", err)
	}
	return &pt, nil
}

// GetRule loads one alert rule; returns (nil, nil) when it does not exist.
func (r *Repository) GetRule(ctx context.Context, id int64) (*db.AlertRule, error) {
	query := `
		SELECT id, parameter_id, name, threshold, operator, severity, is_active,
		       created_at, last_update
		FROM alert_rules
		WHERE id = $1
	`

	var rule db.AlertRule
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rule.ID,
		&rule.ParameterID,
		&rule.Name,
		&rule.Threshold,
		&rule.Operator,
		&rule.Severity,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.LastUpdate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	return &rule, nil
}

// GetAlert loads one alert; returns (nil, nil) when it does not exist.
func (r *Repository) GetAlert(ctx context.Context, id int64) (*db.Alert, error) {
	query := `
		SELECT id, measurement_id, rule_id, created_at, is_read
		FROM alerts
		WHERE id = $1
	`

	var a db.Alert
	err := r.pool.QueryRow(ctx, query, id).Scan(&a.ID, &a.MeasurementID, &a.RuleID, &a.CreatedAt, &a.IsRead)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}
	return &a, nil
}

// ActiveRuleExistsTx checks the uniqueness invariant inside the given
// transaction. Callers must hold the parameter row lock (GetParameterTx)
// first; the probe itself only locks rows it matches, which is nothing in
// the no-duplicate case.
func (r *Repository) ActiveRuleExistsTx(ctx context.Context, tx engine.Tx, parameterID int64, name string, threshold float64, operator string, excludeID int64) (bool, error) {
	pgtx, err := txOf(tx)
	if err != nil {
		return false, err
	}

	query := `
		SELECT id
		FROM alert_rules
		WHERE parameter_id = $1 AND name = $2 AND threshold = $3 AND operator = $4
		  AND is_active = true AND id <> $5
		LIMIT 1
		FOR UPDATE
	`

	var id int64
	err = pgtx.QueryRow(ctx, query, parameterID, name, threshold, operator, excludeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate rule: %w", err)
	}
	return true, nil
}

// InsertRuleTx inserts an alert rule within a transaction and fills in its
// generated id and creation time.
func (r *Repository) InsertRuleTx(ctx context.Context, tx engine.Tx, rule *db.AlertRule) error {
	pgtx, err := txOf(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_rules (parameter_id, name, threshold, operator, severity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err = pgtx.QueryRow(ctx, query,
		rule.ParameterID,
		rule.Name,
		rule.Threshold,
		rule.Operator,
		rule.Severity,
		rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// UpdateRuleTx applies only the non-nil fields of the update and stamps
// last_update.
func (r *Repository) UpdateRuleTx(ctx context.Context, tx engine.Tx, id int64, upd db.RuleUpdate) error {
	pgtx, err := txOf(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_rules
		SET parameter_id = COALESCE($2, parameter_id),
		    name = COALESCE($3, name),
		    threshold = COALESCE($4, threshold),
		    operator = COALESCE($5, operator),
		    severity = COALESCE($6, severity),
		    last_update = NOW()
		WHERE id = $1
	`

	_, err = pgtx.Exec(ctx, query, id, upd.ParameterID, upd.Name, upd.Threshold, upd.Operator, upd.Severity)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// ListActiveRulesForParameterTx lists the active rules bound to a parameter
// within the ingestion transaction.
func (r *Repository) ListActiveRulesForParameterTx(ctx context.Context, tx engine.Tx, parameterID int64) ([]db.AlertRule, error) {
	pgtx, err := txOf(tx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, parameter_id, name, threshold, operator, severity, is_active,
		       created_at, last_update
		FROM alert_rules
		WHERE parameter_id = $1 AND is_active = true
		ORDER BY id
	`

	rows, err := pgtx.Query(ctx, query, parameterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()

	var rules []db.AlertRule
	for rows.Next() {
		var rule db.AlertRule
		if err := rows.Scan(
			&rule.ID,
			&rule.ParameterID,
			&rule.Name,
			&rule.Threshold,
			&rule.Operator,
			&rule.Severity,
			&rule.IsActive,
			&rule.CreatedAt,
			&rule.LastUpdate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

// InsertMeasurementTx inserts a measurement within a transaction and fills in
// its generated id.
func (r *Repository) InsertMeasurementTx(ctx context.Context, tx engine.Tx, m *db.Measurement) error {
	pgtx, err := txOf(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO measurements (parameter_id, value, measured_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	if err := pgtx.QueryRow(ctx, query, m.ParameterID, m.Value, m.MeasuredAt).Scan(&m.ID); err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}
	return nil
}

// InsertAlertTx inserts an alert within a transaction and fills in its
// generated id.
func (r *Repository) InsertAlertTx(ctx context.Context, tx engine.Tx, a *db.Alert) error {
	pgtx, err := txOf(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alerts (measurement_id, rule_id, created_at, is_read)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if err := pgtx.QueryRow(ctx, query, a.MeasurementID, a.RuleID, a.CreatedAt, a.IsRead).Scan(&a.ID); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// DisableRule marks a rule inactive and stamps last_update. Disabling an
// already inactive rule is a no-op.
func (r *Repository) DisableRule(ctx context.Context, id int64) error {
	query := `
		UPDATE alert_rules
		SET is_active = false, last_update = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to disable rule: %w", err)
	}
	return nil
}

// MarkAlertRead marks an alert as read. Marking it twice is a no-op.
func (r *Repository) MarkAlertRead(ctx context.Context, id int64) error {
	query := `
		UPDATE alerts
		SET is_read = true
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	return nil
}
