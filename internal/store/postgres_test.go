package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/civil-registry/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var discrepancyCols = []string{
	"id", "certificate_type", "certificate_id", "field_name", "form_value", "pdf_value",
	"discrepancy_type", "severity", "status", "detected_at", "resolved_at",
}

func TestPostgresStore_GetCertificate_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT certificate_type, certificate_id, .* FROM certificates\s+WHERE certificate_type = \$1 AND certificate_id = \$2 AND deleted_at IS NULL`).
		WithArgs("marriage", int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCertificate(context.Background(), marriageKey)
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCertificate_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM certificates`).
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetCertificate(context.Background(), marriageKey)
	require.Error(t, err)
	assert.Equal(t, model.KindStore, model.KindOf(err))
	assert.Contains(t, err.Error(), "get certificate")
}

func TestPostgresStore_GetWorkflowState_Absent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM workflow_states w\s+WHERE w.certificate_type = \$1`).
		WithArgs("marriage", int64(42)).
		WillReturnError(pgx.ErrNoRows)

	st, err := s.GetWorkflowState(context.Background(), marriageKey)
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTransition_StaleVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE workflow_states SET .* WHERE certificate_type = \$1 AND certificate_id = \$2 AND version = \$12`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.ApplyTransition(context.Background(), model.TransitionWrite{
		Exists:          true,
		ExpectedVersion: 3,
		Next:            model.WorkflowState{Key: marriageKey, CurrentState: model.StateVerified, Version: 4},
		Record:          model.TransitionRecord{Key: marriageKey, FromState: model.StatePendingReview, ToState: model.StateVerified, ActorID: "registrar"},
	})
	require.Error(t, err)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyTransition_LazyInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	score := 72

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO workflow_states .* ON CONFLICT \(certificate_type, certificate_id\) DO UPDATE SET .* WHERE workflow_states.version = 0 AND workflow_states.current_state = 'draft'\s+RETURNING data_quality_score, version`).
		WillReturnRows(pgxmock.NewRows([]string{"data_quality_score", "version"}).AddRow(&score, int64(1)))
	mock.ExpectQuery(`INSERT INTO workflow_transitions .* RETURNING id`).
		WithArgs("marriage", int64(42), "draft", "pending_review", "clerk", nil, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(17)))
	mock.ExpectCommit()
	mock.ExpectRollback()

	got, err := s.ApplyTransition(context.Background(), model.TransitionWrite{
		Next:   model.WorkflowState{Key: marriageKey, CurrentState: model.StatePendingReview, Version: 1, UpdatedAt: now},
		Record: model.TransitionRecord{Key: marriageKey, FromState: model.StateDraft, ToState: model.StatePendingReview, ActorID: "clerk", CreatedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.State.Version)
	require.NotNil(t, got.State.DataQualityScore)
	assert.Equal(t, 72, *got.State.DataQualityScore)
	assert.Equal(t, int64(17), got.Record.ID)
	assert.Equal(t, "clerk", got.Record.ActorID)
}

func TestPostgresStore_ApplyTransition_LazyInsertLosesRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO workflow_states`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.ApplyTransition(context.Background(), model.TransitionWrite{
		Next:   model.WorkflowState{Key: marriageKey, CurrentState: model.StatePendingReview, Version: 1},
		Record: model.TransitionRecord{Key: marriageKey, FromState: model.StateDraft, ToState: model.StatePendingReview, ActorID: "clerk"},
	})
	assert.Equal(t, model.KindConflict, model.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Reconcile_LocksAndInserts(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	detected := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM certificates WHERE .* FOR UPDATE`).
		WithArgs("marriage", int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`FROM discrepancies\s+WHERE .* AND status = 'open'`).
		WillReturnRows(pgxmock.NewRows(discrepancyCols))
	mock.ExpectExec(`INSERT INTO discrepancies`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM discrepancies\s+WHERE .* AND status = 'open'`).
		WillReturnRows(pgxmock.NewRows(discrepancyCols).AddRow(
			"husband_last_name-a", model.CertificateMarriage, int64(42), "husband_last_name", "Cruz", "Santos",
			model.DiscrepancyValueMismatch, model.SeverityHigh, model.DiscrepancyOpen, detected, (*time.Time)(nil),
		))
	mock.ExpectCommit()
	mock.ExpectRollback()

	open, err := s.ReconcileDiscrepancies(context.Background(), marriageKey, insertPlan("husband_last_name"))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "husband_last_name-a", open[0].ID)
	assert.Equal(t, model.SeverityHigh, open[0].Severity)
	assert.Nil(t, open[0].ResolvedAt)
}

func TestPostgresStore_Reconcile_ResolveRaceConflicts(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	resolved := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM certificates`).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`FROM discrepancies`).
		WillReturnRows(pgxmock.NewRows(discrepancyCols))
	mock.ExpectExec(`UPDATE discrepancies SET status = 'resolved'`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := s.ReconcileDiscrepancies(context.Background(), marriageKey, func([]model.Discrepancy) ([]model.DiscrepancyChange, error) {
		return []model.DiscrepancyChange{{Op: model.ChangeResolve, Discrepancy: model.Discrepancy{ID: "gone", ResolvedAt: &resolved}}}, nil
	})
	assert.Equal(t, model.KindConflict, model.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Reconcile_UnknownCertificate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM certificates`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.ReconcileDiscrepancies(context.Background(), deathKey, insertPlan("x"))
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveQualityScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO workflow_states .* ON CONFLICT \(certificate_type, certificate_id\) DO UPDATE SET data_quality_score = EXCLUDED.data_quality_score`).
		WithArgs("death", int64(9), 55, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveQualityScore(context.Background(), deathKey, 55, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountWorkflowByState_ZeroFilled(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT current_state, COUNT\(\*\) FROM workflow_states GROUP BY current_state`).
		WillReturnRows(pgxmock.NewRows([]string{"current_state", "count"}).
			AddRow(model.StatePendingReview, int64(3)).
			AddRow(model.StateApproved, int64(1)))

	counts, err := s.CountWorkflowByState(context.Background())
	require.NoError(t, err)
	assert.Len(t, counts, len(model.States))
	assert.Equal(t, 3, counts[model.StatePendingReview])
	assert.Equal(t, 1, counts[model.StateApproved])
	assert.Equal(t, 0, counts[model.StateArchived])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QualityStats_NoScores(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	var avg *float64
	mock.ExpectQuery(`SELECT AVG\(data_quality_score\), COUNT\(data_quality_score\) FROM workflow_states WHERE current_state = \$1`).
		WithArgs("pending_review").
		WillReturnRows(pgxmock.NewRows([]string{"avg", "count"}).AddRow(avg, int64(0)))

	stats, err := s.QualityStats(context.Background(), model.StatePendingReview)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scored)
	assert.Zero(t, stats.Average)
}

func TestPostgresStore_ListWorkflow_InvalidFilter(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.ListWorkflow(context.Background(), model.WorkflowFilter{Type: "adoption"}, 100)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestPostgresStore_Close_NilCloseFn(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	assert.NoError(t, s.Close())
}
