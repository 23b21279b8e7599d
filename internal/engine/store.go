package engine

import (
	"context"

	"github.com/climasense/station-alert-worker/internal/db"
)

// Tx is a transactional unit of work. pgx.Tx satisfies it.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the transactional data-access capability the engine runs against.
// Lookups return (nil, nil) when the row does not exist; the engine maps that
// to ErrNotFound. Methods with a Tx parameter participate in the given
// transaction so uniqueness checks and inserts are atomic against concurrent
// writers on the same parameter.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	GetParameter(ctx context.Context, id int64) (*db.Parameter, error)
	GetParameterType(ctx context.Context, id int64) (*db.ParameterType, error)
	// GetParameterTx loads the parameter within the transaction and locks
	// its row until the transaction resolves. Rule writes lock the owning
	// parameter first so concurrent duplicate checks on the same parameter
	// serialize even when no conflicting rule row exists yet to lock.
	GetParameterTx(ctx context.Context, tx Tx, id int64) (*db.Parameter, error)
	GetRule(ctx context.Context, id int64) (*db.AlertRule, error)
	GetAlert(ctx context.Context, id int64) (*db.Alert, error)

	// ActiveRuleExistsTx reports whether an active rule with the same
	// parameter, name, threshold and operator exists, excluding excludeID
	// (0 excludes nothing).
	ActiveRuleExistsTx(ctx context.Context, tx Tx, parameterID int64, name string, threshold float64, operator string, excludeID int64) (bool, error)
	InsertRuleTx(ctx context.Context, tx Tx, rule *db.AlertRule) error
	UpdateRuleTx(ctx context.Context, tx Tx, id int64, upd db.RuleUpdate) error
	ListActiveRulesForParameterTx(ctx context.Context, tx Tx, parameterID int64) ([]db.AlertRule, error)
	InsertMeasurementTx(ctx context.Context, tx Tx, m *db.Measurement) error
	InsertAlertTx(ctx context.Context, tx Tx, a *db.Alert) error

	DisableRule(ctx context.Context, id int64) error
	MarkAlertRead(ctx context.Context, id int64) error
}
