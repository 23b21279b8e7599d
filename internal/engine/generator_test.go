package engine_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/climasense/station-alert-worker/internal/db"
	"github.com/climasense/station-alert-worker/internal/engine"
	"go.uber.org/zap"
)

// fakeStore is an isolated in-memory engine.Store. Writes issued through a
// transaction are staged and applied on commit, discarded on rollback.
// GetParameterTx takes a per-parameter lock held until the transaction
// resolves, matching the row lock the real store takes.
type fakeStore struct {
	parameters   map[int64]*db.Parameter
	types        map[int64]*db.ParameterType
	rules        map[int64]*db.AlertRule
	measurements map[int64]*db.Measurement
	alerts       map[int64]*db.Alert
	nextID       int64

	lockMu     sync.Mutex
	paramLocks map[int64]*sync.Mutex
}

type fakeTx struct {
	pending  []func()
	releases []func()
	done     bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	for _, apply := range t.pending {
		apply()
	}
	t.finish()
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.pending = nil
	t.finish()
	return nil
}

func (t *fakeTx) finish() {
	if t.done {
		return
	}
	t.done = true
	for _, release := range t.releases {
		release()
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		parameters:   make(map[int64]*db.Parameter),
		types:        make(map[int64]*db.ParameterType),
		rules:        make(map[int64]*db.AlertRule),
		measurements: make(map[int64]*db.Measurement),
		alerts:       make(map[int64]*db.Alert),
		paramLocks:   make(map[int64]*sync.Mutex),
	}
}

func (s *fakeStore) lockParameter(id int64) func() {
	s.lockMu.Lock()
	m, ok := s.paramLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.paramLocks[id] = m
	}
	s.lockMu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) BeginTx(ctx context.Context) (engine.Tx, error) {
	return &fakeTx{}, nil
}

func (s *fakeStore) GetParameter(ctx context.Context, id int64) (*db.Parameter, error) {
	if p, ok := s.parameters[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) GetParameterTx(ctx context.Context, tx engine.Tx, id int64) (*db.Parameter, error) {
	ft := tx.(*fakeTx)
	ft.releases = append(ft.releases, s.lockParameter(id))
	if p, ok := s.parameters[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) GetParameterType(ctx context.Context, id int64) (*db.ParameterType, error) {
	if pt, ok := s.types[id]; ok {
		cp := *pt
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) GetRule(ctx context.Context, id int64) (*db.AlertRule, error) {
	if r, ok := s.rules[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) GetAlert(ctx context.Context, id int64) (*db.Alert, error) {
	if a, ok := s.alerts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) ActiveRuleExistsTx(ctx context.Context, tx engine.Tx, parameterID int64, name string, threshold float64, operator string, excludeID int64) (bool, error) {
	for _, r := range s.rules {
		if r.IsActive && r.ParameterID == parameterID && r.Name == name &&
			r.Threshold == threshold && r.Operator == operator && r.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) InsertRuleTx(ctx context.Context, tx engine.Tx, rule *db.AlertRule) error {
	rule.ID = s.id()
	cp := *rule
	tx.(*fakeTx).pending = append(tx.(*fakeTx).pending, func() {
		s.rules[cp.ID] = &cp
	})
	return nil
}

func (s *fakeStore) UpdateRuleTx(ctx context.Context, tx engine.Tx, id int64, upd db.RuleUpdate) error {
	tx.(*fakeTx).pending = append(tx.(*fakeTx).pending, func() {
		r := s.rules[id]
		if r == nil {
			return
		}
		if upd.ParameterID != nil {
			r.ParameterID = *upd.ParameterID
		}
		if upd.Name != nil {
			r.Name = *upd.Name
		}
		if upd.Threshold != nil {
			r.Threshold = *upd.Threshold
		}
		if upd.Operator != nil {
			r.Operator = *upd.Operator
		}
		if upd.Severity != nil {
			r.Severity = *upd.Severity
		}
	})
	return nil
}

func (s *fakeStore) ListActiveRulesForParameterTx(ctx context.Context, tx engine.Tx, parameterID int64) ([]db.AlertRule, error) {
	var rules []db.AlertRule
	for _, r := range s.rules {
		if r.IsActive && r.ParameterID == parameterID {
			rules = append(rules, *r)
		}
	}
	return rules, nil
}

func (s *fakeStore) InsertMeasurementTx(ctx context.Context, tx engine.Tx, m *db.Measurement) error {
	m.ID = s.id()
	cp := *m
	tx.(*fakeTx).pending = append(tx.(*fakeTx).pending, func() {
		s.measurements[cp.ID] = &cp
	})
	return nil
}

func (s *fakeStore) InsertAlertTx(ctx context.Context, tx engine.Tx, a *db.Alert) error {
	a.ID = s.id()
	cp := *a
	tx.(*fakeTx).pending = append(tx.(*fakeTx).pending, func() {
		s.alerts[cp.ID] = &cp
	})
	return nil
}

func (s *fakeStore) DisableRule(ctx context.Context, id int64) error {
	if r, ok := s.rules[id]; ok {
		r.IsActive = false
	}
	return nil
}

func (s *fakeStore) MarkAlertRead(ctx context.Context, id int64) error {
	if a, ok := s.alerts[id]; ok {
		a.IsRead = true
	}
	return nil
}

// seed creates one active station parameter with identity scaling and
// returns its id.
func (s *fakeStore) seed() int64 {
	typeID := s.id()
	s.types[typeID] = &db.ParameterType{
		ID:          typeID,
		Name:        "temperature",
		MeasureUnit: "C",
		ScaleFactor: floatPtr(1.0),
		ScaleOffset: floatPtr(0.0),
		IsActive:    true,
	}
	paramID := s.id()
	s.parameters[paramID] = &db.Parameter{
		ID:              paramID,
		StationID:       1,
		ParameterTypeID: typeID,
		IsActive:        true,
	}
	return paramID
}

func newGenerator(s *fakeStore) *engine.AlertGenerator {
	return engine.NewAlertGenerator(s, zap.NewNop())
}

func TestCreateRule_Success(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)

	rule, err := gen.CreateRule(context.Background(), paramID, "High Temp", 30, ">", engine.SeverityRed)
	if err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}
	if rule.ID == 0 {
		t.Error("Expected rule to get an id")
	}
	if !rule.IsActive {
		t.Error("Expected new rule to be active")
	}
	if store.rules[rule.ID] == nil {
		t.Error("Expected rule to be persisted")
	}
}

func TestCreateRule_UnsupportedOperator(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)

	_, err := gen.CreateRule(context.Background(), paramID, "High Temp", 30, "=>", engine.SeverityRed)
	if !errors.Is(err, engine.ErrUnsupportedOperator) {
		t.Fatalf("Expected ErrUnsupportedOperator, got %v", err)
	}
	if len(store.rules) != 0 {
		t.Error("Expected no rule to be persisted")
	}
}

func TestCreateRule_UnknownParameter(t *testing.T) {
	store := newFakeStore()
	gen := newGenerator(store)

	_, err := gen.CreateRule(context.Background(), 999, "High Temp", 30, ">", engine.SeverityRed)
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateRule_DuplicateConflict(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	if _, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed); err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}

	_, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityYellow)
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("Expected ErrConflict for identical rule identity, got %v", err)
	}

	// Differing in any one identity field succeeds.
	if _, err := gen.CreateRule(ctx, paramID, "Higher Temp", 30, ">", engine.SeverityRed); err != nil {
		t.Errorf("Expected rule with different name to succeed, got %v", err)
	}
	if _, err := gen.CreateRule(ctx, paramID, "High Temp", 35, ">", engine.SeverityRed); err != nil {
		t.Errorf("Expected rule with different threshold to succeed, got %v", err)
	}
	if _, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">=", engine.SeverityRed); err != nil {
		t.Errorf("Expected rule with different operator to succeed, got %v", err)
	}
}

func TestCreateRule_ConcurrentIdenticalIdentity(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)

	// Both calls claim the same (parameter, name, threshold, operator).
	// The parameter row lock serializes them, so the loser must observe
	// the winner's committed rule in its duplicate check.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gen.CreateRule(context.Background(), paramID, "High Temp", 30, ">", engine.SeverityRed)
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, engine.ErrConflict):
			conflicts++
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if created != 1 || conflicts != 1 {
		t.Fatalf("Expected one success and one conflict, got %d created, %d conflicts", created, conflicts)
	}

	active := 0
	for _, r := range store.rules {
		if r.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("Expected exactly one active rule persisted, got %d", active)
	}
}

func TestUpdateRule_PartialUpdate(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	rule, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityYellow)
	if err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}

	severity := engine.SeverityRed
	if err := gen.UpdateRule(ctx, rule.ID, db.RuleUpdate{Severity: &severity}); err != nil {
		t.Fatalf("UpdateRule returned error: %v", err)
	}

	updated := store.rules[rule.ID]
	if updated.Severity != engine.SeverityRed {
		t.Errorf("Expected severity R, got %q", updated.Severity)
	}
	if updated.Name != "High Temp" || updated.Threshold != 30 || updated.Operator != ">" {
		t.Error("Expected untouched fields to keep their values")
	}
}

func TestUpdateRule_ConflictExcludesSelf(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	rule, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed)
	if err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}
	if _, err := gen.CreateRule(ctx, paramID, "Hot", 35, ">", engine.SeverityRed); err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}

	// Re-submitting the rule's own identity is not a conflict.
	name := "High Temp"
	if err := gen.UpdateRule(ctx, rule.ID, db.RuleUpdate{Name: &name}); err != nil {
		t.Errorf("Expected self-identical update to succeed, got %v", err)
	}

	// Colliding with the other rule's identity is.
	threshold := 35.0
	collidingName := "Hot"
	err = gen.UpdateRule(ctx, rule.ID, db.RuleUpdate{Name: &collidingName, Threshold: &threshold})
	if !errors.Is(err, engine.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
}

func TestUpdateRule_NotFound(t *testing.T) {
	store := newFakeStore()
	store.seed()
	gen := newGenerator(store)

	name := "x"
	err := gen.UpdateRule(context.Background(), 404, db.RuleUpdate{Name: &name})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRule_UnsupportedOperator(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	rule, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed)
	if err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}

	op := "~="
	err = gen.UpdateRule(ctx, rule.ID, db.RuleUpdate{Operator: &op})
	if !errors.Is(err, engine.ErrUnsupportedOperator) {
		t.Fatalf("Expected ErrUnsupportedOperator, got %v", err)
	}
}

func TestIngestMeasurement_ExactlyOnceFiring(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	if _, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed); err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}

	result, err := gen.IngestMeasurement(ctx, paramID, 35, 1700000000)
	if err != nil {
		t.Fatalf("IngestMeasurement returned error: %v", err)
	}
	if len(result.Alerts) != 1 {
		t.Fatalf("Expected exactly one alert, got %d", len(result.Alerts))
	}
	if result.Alerts[0].Alert.IsRead {
		t.Error("Expected new alert to be unread")
	}
	if result.Alerts[0].Alert.MeasurementID != result.Measurement.ID {
		t.Error("Expected alert to reference the new measurement")
	}

	// Re-ingesting an identical reading is a distinct measurement and
	// produces a second, independent alert.
	second, err := gen.IngestMeasurement(ctx, paramID, 35, 1700000000)
	if err != nil {
		t.Fatalf("IngestMeasurement returned error: %v", err)
	}
	if len(second.Alerts) != 1 {
		t.Fatalf("Expected exactly one alert on re-ingest, got %d", len(second.Alerts))
	}
	if second.Alerts[0].Alert.ID == result.Alerts[0].Alert.ID {
		t.Error("Expected a new alert row, not a duplicate of the first")
	}
	if len(store.alerts) != 2 {
		t.Errorf("Expected 2 persisted alerts, got %d", len(store.alerts))
	}
	if len(store.measurements) != 2 {
		t.Errorf("Expected 2 persisted measurements, got %d", len(store.measurements))
	}
}

func TestIngestMeasurement_NoFire(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	if _, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed); err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}

	result, err := gen.IngestMeasurement(ctx, paramID, 10, 1700000000)
	if err != nil {
		t.Fatalf("IngestMeasurement returned error: %v", err)
	}
	if len(result.Alerts) != 0 {
		t.Errorf("Expected no alerts, got %d", len(result.Alerts))
	}
	if len(store.measurements) != 1 {
		t.Error("Expected the measurement to be persisted even when no rule fires")
	}
}

func TestIngestMeasurement_DisabledRuleIsInert(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	rule, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed)
	if err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}
	if err := gen.DisableRule(ctx, rule.ID); err != nil {
		t.Fatalf("DisableRule returned error: %v", err)
	}

	result, err := gen.IngestMeasurement(ctx, paramID, 35, 1700000000)
	if err != nil {
		t.Fatalf("IngestMeasurement returned error: %v", err)
	}
	if len(result.Alerts) != 0 {
		t.Errorf("Expected disabled rule to produce no alerts, got %d", len(result.Alerts))
	}
}

func TestIngestMeasurement_ScaledValueFires(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	store.types[store.parameters[paramID].ParameterTypeID].ScaleFactor = floatPtr(0.1)
	store.types[store.parameters[paramID].ParameterTypeID].ScaleOffset = floatPtr(-2.0)
	gen := newGenerator(store)
	ctx := context.Background()

	// raw 350 normalizes to 350*0.1-2 = 33
	if _, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed); err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}

	result, err := gen.IngestMeasurement(ctx, paramID, 350, 1700000000)
	if err != nil {
		t.Fatalf("IngestMeasurement returned error: %v", err)
	}
	if len(result.Alerts) != 1 {
		t.Errorf("Expected the normalized value to fire the rule, got %d alerts", len(result.Alerts))
	}
	if result.Measurement.Value != 350 {
		t.Errorf("Expected the raw value to be persisted, got %v", result.Measurement.Value)
	}
}

func TestIngestMeasurement_UnknownParameter(t *testing.T) {
	store := newFakeStore()
	gen := newGenerator(store)

	_, err := gen.IngestMeasurement(context.Background(), 999, 35, 1700000000)
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if len(store.measurements) != 0 {
		t.Error("Expected nothing to be persisted")
	}
}

func TestIngestMeasurement_InactiveParameter(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	store.parameters[paramID].IsActive = false
	gen := newGenerator(store)

	_, err := gen.IngestMeasurement(context.Background(), paramID, 35, 1700000000)
	if !errors.Is(err, engine.ErrInactive) {
		t.Fatalf("Expected ErrInactive, got %v", err)
	}
}

func TestIngestMeasurement_InactiveParameterType(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	store.types[store.parameters[paramID].ParameterTypeID].IsActive = false
	gen := newGenerator(store)

	_, err := gen.IngestMeasurement(context.Background(), paramID, 35, 1700000000)
	if !errors.Is(err, engine.ErrInactive) {
		t.Fatalf("Expected ErrInactive, got %v", err)
	}
}

func TestIngestMeasurement_NonFiniteValue(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)

	_, err := gen.IngestMeasurement(context.Background(), paramID, math.NaN(), 1700000000)
	if !errors.Is(err, engine.ErrInvalidMeasurement) {
		t.Fatalf("Expected ErrInvalidMeasurement, got %v", err)
	}
	if len(store.measurements) != 0 {
		t.Error("Expected nothing to be persisted")
	}
}

func TestDisableRule_Idempotent(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	rule, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed)
	if err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}

	if err := gen.DisableRule(ctx, rule.ID); err != nil {
		t.Fatalf("First DisableRule returned error: %v", err)
	}
	if err := gen.DisableRule(ctx, rule.ID); err != nil {
		t.Fatalf("Second DisableRule returned error: %v", err)
	}
	if store.rules[rule.ID].IsActive {
		t.Error("Expected rule to stay disabled")
	}
}

func TestMarkAlertRead_Idempotent(t *testing.T) {
	store := newFakeStore()
	paramID := store.seed()
	gen := newGenerator(store)
	ctx := context.Background()

	if _, err := gen.CreateRule(ctx, paramID, "High Temp", 30, ">", engine.SeverityRed); err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}
	result, err := gen.IngestMeasurement(ctx, paramID, 35, 1700000000)
	if err != nil {
		t.Fatalf("IngestMeasurement returned error: %v", err)
	}
	alertID := result.Alerts[0].Alert.ID

	if err := gen.MarkAlertRead(ctx, alertID); err != nil {
		t.Fatalf("First MarkAlertRead returned error: %v", err)
	}
	if err := gen.MarkAlertRead(ctx, alertID); err != nil {
		t.Fatalf("Second MarkAlertRead returned error: %v", err)
	}
	if !store.alerts[alertID].IsRead {
		t.Error("Expected alert to stay read")
	}
}

func TestMarkAlertRead_NotFound(t *testing.T) {
	store := newFakeStore()
	gen := newGenerator(store)

	err := gen.MarkAlertRead(context.Background(), 404)
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}
