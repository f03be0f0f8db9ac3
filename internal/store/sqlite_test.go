package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/civil-registry/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain path", "/tmp/registry.db", "/tmp/registry.db?" + sqlitePragmas},
		{"scheme stripped", "sqlite:///tmp/registry.db", "/tmp/registry.db?" + sqlitePragmas},
		{"existing query", "file:registry.db?cache=shared", "file:registry.db?cache=shared&" + sqlitePragmas},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sqliteDSN(tt.input))
		})
	}
}

func TestSQLite_UpsertCertificate_InvalidType(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpsertCertificate(context.Background(), model.Certificate{
		Key: model.CertificateKey{Type: "adoption", ID: 1},
	})
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestSQLite_UpsertCertificate_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedCertificate(t, st, marriageKey, "first")
	seedCertificate(t, st, marriageKey, "second")

	got, err := st.GetCertificate(ctx, marriageKey)
	require.NoError(t, err)
	assert.Equal(t, "second", got.DisplayName)

	keys, err := st.ListCertificateKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestSQLite_ImportCertificates_RollsBackOnInvalid(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.ImportCertificates(ctx, []model.Certificate{
		{Key: marriageKey},
		{Key: model.CertificateKey{Type: "adoption", ID: 2}},
	})
	require.Error(t, err)

	keys, err := st.ListCertificateKeys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLite_ConcurrentTransitionsOneWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := st.ApplyTransition(ctx, model.TransitionWrite{
		Next:   model.WorkflowState{Key: marriageKey, CurrentState: model.StatePendingReview, Version: 1, UpdatedAt: now},
		Record: model.TransitionRecord{Key: marriageKey, FromState: model.StateDraft, ToState: model.StatePendingReview, ActorID: "clerk", CreatedAt: now},
	})
	require.NoError(t, err)

	targets := []model.State{model.StateVerified, model.StateRejected, model.StateVerified, model.StateRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to model.State) {
			defer wg.Done()
			next := model.WorkflowState{Key: marriageKey, CurrentState: to, Version: 2, UpdatedAt: now}
			if to == model.StateRejected {
				next.Rejected = &model.ActorStamp{By: "r", At: now}
				next.RejectedReason = "illegible"
			} else {
				next.Verified = &model.ActorStamp{By: "v", At: now}
			}
			_, errs[i] = st.ApplyTransition(ctx, model.TransitionWrite{
				Exists:          true,
				ExpectedVersion: 1,
				Next:            next,
				Record:          model.TransitionRecord{Key: marriageKey, FromState: model.StatePendingReview, ToState: to, ActorID: "reviewer", CreatedAt: now},
			})
		}(i, to)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, model.KindConflict, model.KindOf(err))
	}
	assert.Equal(t, 1, wins)

	history, err := st.ListTransitions(ctx, marriageKey)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	stored, err := st.GetWorkflowState(ctx, marriageKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestSQLite_ReconcilePlanErrorRollsBack(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCertificate(t, st, marriageKey, "m")

	_, err := st.ReconcileDiscrepancies(ctx, marriageKey, func(open []model.Discrepancy) ([]model.DiscrepancyChange, error) {
		return nil, model.ErrInvalidInput
	})
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))

	open, err := st.OpenDiscrepancies(ctx, marriageKey)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.NotNil(t, open)
}

func TestSQLite_ClosedStoreErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "closed.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Close())

	ctx := context.Background()
	_, err = st.GetCertificate(ctx, marriageKey)
	assert.Equal(t, model.KindStore, model.KindOf(err))

	_, err = st.ListWorkflow(ctx, model.WorkflowFilter{}, 10)
	assert.Error(t, err)

	_, err = st.CountWorkflowByState(ctx)
	assert.Error(t, err)

	err = st.SaveQualityScore(ctx, marriageKey, 50, time.Now())
	assert.Error(t, err)

	assert.Error(t, st.Ping(ctx))
}
