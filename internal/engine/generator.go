package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/climasense/station-alert-worker/internal/db"
	"go.uber.org/zap"
)

// AlertGenerator orchestrates rule lifecycle and ingestion-time evaluation.
// Every public operation runs to completion within one transactional unit of
// work against the injected store.
type AlertGenerator struct {
	store  Store
	logger *zap.Logger
}

// NewAlertGenerator creates a new alert generator
func NewAlertGenerator(store Store, logger *zap.Logger) *AlertGenerator {
	return &AlertGenerator{
		store:  store,
		logger: logger,
	}
}

// IngestResult is the outcome of one measurement ingestion.
type IngestResult struct {
	Measurement db.Measurement
	Alerts      []FiredAlert
}

// FiredAlert pairs a created alert with the rule that fired it.
type FiredAlert struct {
	Alert db.Alert
	Rule  db.AlertRule
}

// CreateRule validates and persists a new active alert rule. The uniqueness
// check and insert run in one transaction so two concurrent creations with
// identical (parameter, name, threshold, operator) cannot both succeed.
func (g *AlertGenerator) CreateRule(ctx context.Context, parameterID int64, name string, threshold float64, operator, severity string) (*db.AlertRule, error) {
	if !Operator(operator).Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperator, operator)
	}

	tx, err := g.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the owning parameter row before the duplicate probe. The probe
	// matches zero rows in the no-duplicate case and so locks nothing on
	// its own; without the parameter lock two identical concurrent
	// creations could both see "no duplicate" and both insert.
	param, err := g.store.GetParameterTx(ctx, tx, parameterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameter: %w", err)
	}
	if param == nil {
		return nil, fmt.Errorf("parameter %d: %w", parameterID, ErrNotFound)
	}

	exists, err := g.store.ActiveRuleExistsTx(ctx, tx, parameterID, name, threshold, operator, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to check rule uniqueness: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("rule %q on parameter %d: %w", name, parameterID, ErrConflict)
	}

	rule := &db.AlertRule{
		ParameterID: parameterID,
		Name:        name,
		Threshold:   threshold,
		Operator:    operator,
		Severity:    severity,
		IsActive:    true,
	}
	if err := g.store.InsertRuleTx(ctx, tx, rule); err != nil {
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	g.logger.Info("alert rule created",
		zap.Int64("rule_id", rule.ID),
		zap.Int64("parameter_id", parameterID),
		zap.String("operator", operator),
		zap.Float64("threshold", threshold),
		zap.String("severity", severity),
	)

	return rule, nil
}

// UpdateRule applies a partial update to an existing rule. When the identity
// fields (name, threshold, operator) change, uniqueness is re-checked against
// the other active rules on the rule's parameter, excluding itself.
func (g *AlertGenerator) UpdateRule(ctx context.Context, ruleID int64, upd db.RuleUpdate) error {
	if upd.Operator != nil && !Operator(*upd.Operator).Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedOperator, *upd.Operator)
	}

	rule, err := g.store.GetRule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("failed to load rule: %w", err)
	}
	if rule == nil {
		return fmt.Errorf("rule %d: %w", ruleID, ErrNotFound)
	}

	parameterID := rule.ParameterID
	if upd.ParameterID != nil {
		parameterID = *upd.ParameterID
	}

	// Effective identity after applying the update.
	name, threshold, operator := rule.Name, rule.Threshold, rule.Operator
	identityChanged := parameterID != rule.ParameterID
	if upd.Name != nil && *upd.Name != rule.Name {
		name = *upd.Name
		identityChanged = true
	}
	if upd.Threshold != nil && *upd.Threshold != rule.Threshold {
		threshold = *upd.Threshold
		identityChanged = true
	}
	if upd.Operator != nil && *upd.Operator != rule.Operator {
		operator = *upd.Operator
		identityChanged = true
	}

	tx, err := g.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Same locking order as CreateRule: the parameter row lock is what
	// keeps the uniqueness re-check from racing a concurrent create on
	// the same parameter.
	param, err := g.store.GetParameterTx(ctx, tx, parameterID)
	if err != nil {
		return fmt.Errorf("failed to load parameter: %w", err)
	}
	if param == nil {
		return fmt.Errorf("parameter %d: %w", parameterID, ErrNotFound)
	}

	if identityChanged {
		exists, err := g.store.ActiveRuleExistsTx(ctx, tx, parameterID, name, threshold, operator, ruleID)
		if err != nil {
			return fmt.Errorf("failed to check rule uniqueness: %w", err)
		}
		if exists {
			return fmt.Errorf("rule %q on parameter %d: %w", name, parameterID, ErrConflict)
		}
	}

	if err := g.store.UpdateRuleTx(ctx, tx, ruleID, upd); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	g.logger.Info("alert rule updated", zap.Int64("rule_id", ruleID))
	return nil
}

// DisableRule marks the rule inactive and stamps its last update. Disabling
// an already disabled rule is not an error.
func (g *AlertGenerator) DisableRule(ctx context.Context, ruleID int64) error {
	rule, err := g.store.GetRule(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("failed to load rule: %w", err)
	}
	if rule == nil {
		return fmt.Errorf("rule %d: %w", ruleID, ErrNotFound)
	}

	if err := g.store.DisableRule(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to disable rule: %w", err)
	}

	g.logger.Info("alert rule disabled", zap.Int64("rule_id", ruleID))
	return nil
}

// IngestMeasurement persists one measurement and, in the same transaction,
// evaluates every active rule bound to its parameter, inserting exactly one
// alert per firing rule. Either the measurement and all fired alerts commit
// together or none of them do.
func (g *AlertGenerator) IngestMeasurement(ctx context.Context, parameterID int64, rawValue float64, measuredAt int64) (*IngestResult, error) {
	if math.IsNaN(rawValue) || math.IsInf(rawValue, 0) {
		return nil, fmt.Errorf("raw value %v: %w", rawValue, ErrInvalidMeasurement)
	}

	param, err := g.store.GetParameter(ctx, parameterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameter: %w", err)
	}
	if param == nil {
		return nil, fmt.Errorf("parameter %d: %w", parameterID, ErrNotFound)
	}
	if !param.IsActive {
		return nil, fmt.Errorf("parameter %d: %w", parameterID, ErrInactive)
	}

	paramType, err := g.store.GetParameterType(ctx, param.ParameterTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameter type: %w", err)
	}
	if paramType == nil {
		return nil, fmt.Errorf("parameter type %d: %w", param.ParameterTypeID, ErrNotFound)
	}
	if !paramType.IsActive {
		return nil, fmt.Errorf("parameter type %d: %w", param.ParameterTypeID, ErrInactive)
	}

	adjusted, err := Normalize(rawValue, paramType)
	if err != nil {
		return nil, err
	}

	tx, err := g.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	measurement := &db.Measurement{
		ParameterID: parameterID,
		Value:       rawValue,
		MeasuredAt:  measuredAt,
	}
	if err := g.store.InsertMeasurementTx(ctx, tx, measurement); err != nil {
		return nil, fmt.Errorf("failed to insert measurement: %w", err)
	}

	rules, err := g.store.ListActiveRulesForParameterTx(ctx, tx, parameterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}

	now := time.Now().Unix()
	var alerts []FiredAlert
	for i := range rules {
		fired, err := Evaluate(adjusted, &rules[i])
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate rule: %w", err)
		}
		if !fired {
			continue
		}
		alert := &db.Alert{
			MeasurementID: measurement.ID,
			RuleID:        rules[i].ID,
			CreatedAt:     now,
			IsRead:        false,
		}
		if err := g.store.InsertAlertTx(ctx, tx, alert); err != nil {
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}
		alerts = append(alerts, FiredAlert{Alert: *alert, Rule: rules[i]})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	g.logger.Debug("measurement ingested",
		zap.Int64("measurement_id", measurement.ID),
		zap.Int64("parameter_id", parameterID),
		zap.Float64("adjusted_value", adjusted),
		zap.Int("alerts_fired", len(alerts)),
	)

	return &IngestResult{Measurement: *measurement, Alerts: alerts}, nil
}

// MarkAlertRead marks the alert as read. Marking an already read alert is
// not an error.
func (g *AlertGenerator) MarkAlertRead(ctx context.Context, alertID int64) error {
	alert, err := g.store.GetAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("failed to load alert: %w", err)
	}
	if alert == nil {
		return fmt.Errorf("alert %d: %w", alertID, ErrNotFound)
	}

	if err := g.store.MarkAlertRead(ctx, alertID); err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}

	return nil
}
