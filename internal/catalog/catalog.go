package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/climasense/station-alert-worker/internal/db"
	"github.com/climasense/station-alert-worker/internal/engine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Service administers parameter types, stations and their parameter bindings.
// Catalog rows are disabled, never hard-deleted, once measurements or rules
// reference them.
type Service struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewService creates a new catalog service
func NewService(pool *pgxpool.Pool, logger *zap.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// ParameterTypeInput holds the fields for creating a parameter type.
// Nil factor/offset default to the identity scaling (1.0 / 0.0).
type ParameterTypeInput struct {
	Name             string
	MeasureUnit      string
	DecimalPrecision int
	ScaleFactor      *float64
	ScaleOffset      *float64
}

// CreateParameterType persists a new active parameter type. A duplicate name
// is a conflict.
func (s *Service) CreateParameterType(ctx context.Context, input ParameterTypeInput) (*db.ParameterType, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("parameter type name is required")
	}
	if input.DecimalPrecision < 0 {
		return nil, fmt.Errorf("decimal precision must be non-negative, got %d", input.DecimalPrecision)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM parameter_types WHERE name = $1 LIMIT 1 FOR UPDATE`,
		input.Name,
	).Scan(&existing)
	if err == nil {
		return nil, fmt.Errorf("parameter type %q: %w", input.Name, engine.ErrConflict)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check parameter type name: %w", err)
	}

	pt := &db.ParameterType{
		Name:             input.Name,
		MeasureUnit:      input.MeasureUnit,
		DecimalPrecision: input.DecimalPrecision,
		ScaleFactor:      input.ScaleFactor,
		ScaleOffset:      input.ScaleOffset,
		IsActive:         true,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO parameter_types (name, measure_unit, decimal_precision, scale_factor, scale_offset, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING id, created_at
	`, pt.Name, pt.MeasureUnit, pt.DecimalPrecision, pt.ScaleFactor, pt.ScaleOffset).Scan(&pt.ID, &pt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert parameter type: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("parameter type created",
		zap.Int64("parameter_type_id", pt.ID),
		zap.String("name", pt.Name),
	)
	return pt, nil
}

// ListParameterTypes lists parameter types filtered by active flag.
func (s *Service) ListParameterTypes(ctx context.Context, active bool) ([]db.ParameterType, error) {
	query := `
		SELECT id, name, measure_unit, decimal_precision, scale_factor, scale_offset,
		       is_active, created_at, last_update
		FROM parameter_types
		WHERE is_active = $1
		ORDER BY name
	`

	rows, err := s.pool.Query(ctx, query, active)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter types: %w", err)
	}
	defer rows.Close()

	var types []db.ParameterType
	for rows.Next() {
		var pt db.ParameterType
		if err := rows.Scan(
			&pt.ID,
			&pt.Name,
			&pt.MeasureUnit,
			&pt.DecimalPrecision,
			&pt.ScaleFactor,
			&pt.ScaleOffset,
			&pt.IsActive,
			&pt.CreatedAt,
			&pt.LastUpdate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan parameter type: %w", err)
		}
		types = append(types, pt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return types, nil
}

// DisableParameterType marks a parameter type inactive. Idempotent.
func (s *Service) DisableParameterType(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE parameter_types
		SET is_active = false, last_update = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to disable parameter type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("parameter type %d: %w", id, engine.ErrNotFound)
	}

	s.logger.Info("parameter type disabled", zap.Int64("parameter_type_id", id))
	return nil
}

// CreateStation persists a new station and binds the given parameter types to
// it as parameters, all in one transaction.
func (s *Service) CreateStation(ctx context.Context, name string, parameterTypeIDs []int64) (*db.Station, error) {
	if name == "" {
		return nil, fmt.Errorf("station name is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	station := &db.Station{Name: name, IsActive: true}
	err = tx.QueryRow(ctx, `
		INSERT INTO stations (name, is_active)
		VALUES ($1, true)
		RETURNING id, created_at
	`, name).Scan(&station.ID, &station.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert station: %w", err)
	}

	for _, typeID := range parameterTypeIDs {
		var exists int64
		err = tx.QueryRow(ctx, `SELECT id FROM parameter_types WHERE id = $1`, typeID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("parameter type %d: %w", typeID, engine.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check parameter type: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO parameters (station_id, parameter_type_id, is_active)
			VALUES ($1, $2, true)
		`, station.ID, typeID)
		if err != nil {
			return nil, fmt.Errorf("failed to bind parameter type %d: %w", typeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("station created",
		zap.Int64("station_id", station.ID),
		zap.String("name", name),
		zap.Int("parameters", len(parameterTypeIDs)),
	)
	return station, nil
}

// StationParameter is one parameter binding shown in station listings.
type StationParameter struct {
	ParameterID int64  `json:"parameter_id"`
	TypeName    string `json:"type_name"`
	MeasureUnit string `json:"measure_unit"`
	IsActive    bool   `json:"is_active"`
}

// StationWithParameters is a station together with its parameter bindings.
type StationWithParameters struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	IsActive   bool               `json:"is_active"`
	Parameters []StationParameter `json:"parameters"`
}

// ListStations lists all stations with their parameters, ordered by name.
func (s *Service) ListStations(ctx context.Context) ([]StationWithParameters, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT st.id, st.name, st.is_active,
		       p.id, pt.name, pt.measure_unit, p.is_active
		FROM stations st
		LEFT JOIN parameters p ON p.station_id = st.id
		LEFT JOIN parameter_types pt ON p.parameter_type_id = pt.id
		ORDER BY st.name, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()

	var stations []StationWithParameters
	byID := make(map[int64]int)
	for rows.Next() {
		var (
			stationID       int64
			name            string
			stationActive   bool
			parameterID     *int64
			typeName        *string
			measureUnit     *string
			parameterActive *bool
		)
		if err := rows.Scan(&stationID, &name, &stationActive,
			&parameterID, &typeName, &measureUnit, &parameterActive); err != nil {
			return nil, fmt.Errorf("failed to scan station row: %w", err)
		}

		idx, ok := byID[stationID]
		if !ok {
			stations = append(stations, StationWithParameters{
				ID:       stationID,
				Name:     name,
				IsActive: stationActive,
			})
			idx = len(stations) - 1
			byID[stationID] = idx
		}
		if parameterID != nil {
			stations[idx].Parameters = append(stations[idx].Parameters, StationParameter{
				ParameterID: *parameterID,
				TypeName:    *typeName,
				MeasureUnit: *measureUnit,
				IsActive:    *parameterActive,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return stations, nil
}

// RenameStation updates the station name and stamps last_update.
func (s *Service) RenameStation(ctx context.Context, id int64, name string) error {
	if name == "" {
		return fmt.Errorf("station name is required")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE stations
		SET name = $2, last_update = NOW()
		WHERE id = $1
	`, id, name)
	if err != nil {
		return fmt.Errorf("failed to rename station: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("station %d: %w", id, engine.ErrNotFound)
	}
	return nil
}

// DisableStation marks a station inactive. Idempotent.
func (s *Service) DisableStation(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stations
		SET is_active = false, last_update = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to disable station: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("station %d: %w", id, engine.ErrNotFound)
	}

	s.logger.Info("station disabled", zap.Int64("station_id", id))
	return nil
}

// AddParameter binds one more parameter type to an existing station.
func (s *Service) AddParameter(ctx context.Context, stationID, parameterTypeID int64) (*db.Parameter, error) {
	var stationExists int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM stations WHERE id = $1`, stationID).Scan(&stationExists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("station %d: %w", stationID, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check station: %w", err)
	}

	var typeExists int64
	err = s.pool.QueryRow(ctx, `SELECT id FROM parameter_types WHERE id = $1`, parameterTypeID).Scan(&typeExists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("parameter type %d: %w", parameterTypeID, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check parameter type: %w", err)
	}

	p := &db.Parameter{StationID: stationID, ParameterTypeID: parameterTypeID, IsActive: true}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO parameters (station_id, parameter_type_id, is_active)
		VALUES ($1, $2, true)
		RETURNING id
	`, stationID, parameterTypeID).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert parameter: %w", err)
	}
	return p, nil
}
