package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/civil-registry/internal/model"
)

var birthKey = model.CertificateKey{Type: model.CertificateBirth, ID: 7}

func newTestMachine(st Store, policy ReopenPolicy) *Machine {
	m := NewMachine(st, policy)
	fixed := time.Date(2024, 4, 2, 10, 30, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	return m
}

func transition(to model.State, reason string) TransitionRequest {
	return TransitionRequest{Key: birthKey, To: to, ActorID: "clerk-1", Reason: reason}
}

func TestRequestTransition_LazyDraft(t *testing.T) {
	st := newMemStore(birthKey)
	m := newTestMachine(st, ReopenAny)

	res, err := m.RequestTransition(context.Background(), transition(model.StatePendingReview, ""))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.StatePendingReview, res.NewState)
	assert.Equal(t, int64(1), res.Workflow.Version)
	assert.Equal(t, model.StateDraft, res.Record.FromState)
	assert.Nil(t, res.Workflow.Verified)
	assert.Nil(t, res.Workflow.Approved)
	assert.Nil(t, res.Workflow.Rejected)

	recs, err := m.History(context.Background(), birthKey)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "clerk-1", recs[0].ActorID)
}

func TestRequestTransition_FullLifecycleKeepsStamps(t *testing.T) {
	st := newMemStore(birthKey)
	m := newTestMachine(st, ReopenAny)
	ctx := context.Background()

	steps := []struct {
		to     model.State
		actor  string
		reason string
	}{
		{model.StatePendingReview, "clerk", ""},
		{model.StateVerified, "verifier", ""},
		{model.StateRejected, "registrar", "smudged seal"},
		{model.StatePendingReview, "clerk", ""},
		{model.StateVerified, "verifier-2", ""},
		{model.StateApproved, "registrar", ""},
		{model.StateArchived, "archivist", ""},
	}
	for _, s := range steps {
		_, err := m.RequestTransition(ctx, TransitionRequest{Key: birthKey, To: s.to, ActorID: s.actor, Reason: s.reason})
		require.NoError(t, err, "to %s", s.to)
	}

	final := st.state(birthKey)
	assert.Equal(t, model.StateArchived, final.CurrentState)
	require.NotNil(t, final.Verified)
	assert.Equal(t, "verifier-2", final.Verified.By)
	require.NotNil(t, final.Approved)
	assert.Equal(t, "registrar", final.Approved.By)
	require.NotNil(t, final.Rejected)
	assert.Equal(t, "registrar", final.Rejected.By)
	assert.Equal(t, "smudged seal", final.RejectedReason)
	assert.Equal(t, int64(len(steps)), final.Version)

	recs, err := m.History(ctx, birthKey)
	require.NoError(t, err)
	assert.Len(t, recs, len(steps))
}

func TestRequestTransition_Totality(t *testing.T) {
	ctx := context.Background()
	for _, from := range model.States {
		for _, to := range model.States {
			if Allowed(from, to) {
				continue
			}
			st := newMemStore(birthKey)
			st.setState(birthKey, from)
			before := st.state(birthKey)

			m := newTestMachine(st, ReopenAny)
			_, err := m.RequestTransition(ctx, transition(to, "because"))
			require.Error(t, err, "%s -> %s", from, to)
			assert.Equal(t, model.KindInvalidTransition, model.KindOf(err), "%s -> %s", from, to)
			assert.Equal(t, before, st.state(birthKey))
			assert.Empty(t, st.records)
		}
	}
}

func TestRequestTransition_RejectRequiresReason(t *testing.T) {
	ctx := context.Background()
	for _, from := range model.States {
		st := newMemStore(birthKey)
		st.setState(birthKey, from)
		m := newTestMachine(st, ReopenAny)

		for _, blank := range []string{"", "   "} {
			_, err := m.RequestTransition(ctx, transition(model.StateRejected, blank))
			assert.Equal(t, model.KindMissingReason, model.KindOf(err), "from %s", from)
		}
		assert.Equal(t, from, st.state(birthKey).CurrentState)

		if Allowed(from, model.StateRejected) {
			res, err := m.RequestTransition(ctx, transition(model.StateRejected, "illegible"))
			require.NoError(t, err, "from %s", from)
			assert.Equal(t, model.StateRejected, res.NewState)
			assert.Equal(t, "illegible", res.Workflow.RejectedReason)
		}
	}
}

func TestRequestTransition_UnknownTarget(t *testing.T) {
	m := newTestMachine(newMemStore(birthKey), ReopenAny)
	_, err := m.RequestTransition(context.Background(), transition("published", ""))
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err))
}

func TestRequestTransition_BlankActor(t *testing.T) {
	m := newTestMachine(newMemStore(birthKey), ReopenAny)
	req := transition(model.StatePendingReview, "")
	req.ActorID = " "
	_, err := m.RequestTransition(context.Background(), req)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

func TestRequestTransition_CertificateNotFound(t *testing.T) {
	m := newTestMachine(newMemStore(), ReopenAny)
	_, err := m.RequestTransition(context.Background(), transition(model.StatePendingReview, ""))
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestRequestTransition_ReopenPolicy(t *testing.T) {
	ctx := context.Background()

	st := newMemStore(birthKey)
	st.setState(birthKey, model.StateRejected)
	m := newTestMachine(st, ReopenPendingReview)

	_, err := m.RequestTransition(ctx, transition(model.StateDraft, ""))
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err))

	res, err := m.RequestTransition(ctx, transition(model.StatePendingReview, ""))
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingReview, res.NewState)
}

// Scenario E: two reviewers act on the same pending certificate at once.
func TestRequestTransition_ConcurrentReviewersOneWins(t *testing.T) {
	st := newMemStore(birthKey)
	st.setState(birthKey, model.StatePendingReview)

	var barrier sync.WaitGroup
	barrier.Add(2)
	st.readBarrier = &barrier
	st.barrierReads = 2

	m := newTestMachine(st, ReopenAny)
	ctx := context.Background()

	reqs := []TransitionRequest{
		{Key: birthKey, To: model.StateVerified, ActorID: "verifier"},
		{Key: birthKey, To: model.StateRejected, ActorID: "registrar", Reason: "wrong parish"},
	}
	results := make([]*TransitionResult, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.RequestTransition(ctx, reqs[i])
		}(i)
	}
	wg.Wait()

	var winner *TransitionResult
	conflicts := 0
	for i := range reqs {
		if errs[i] == nil {
			winner = results[i]
			continue
		}
		assert.Equal(t, model.KindConflict, model.KindOf(errs[i]))
		conflicts++
	}
	require.NotNil(t, winner)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, winner.NewState, st.state(birthKey).CurrentState)
	assert.Len(t, st.records, 1)
}

func TestRequestTransition_StoreErrorPropagates(t *testing.T) {
	ms := &mockStore{}
	ms.On("GetCertificate", mock.Anything, birthKey).Return(&model.Certificate{Key: birthKey}, nil)
	ms.On("GetWorkflowState", mock.Anything, birthKey).Return(nil, nil)
	ms.On("ApplyTransition", mock.Anything, mock.AnythingOfType("model.TransitionWrite")).
		Return(nil, eris.New("postgres: connection refused"))

	m := newTestMachine(ms, ReopenAny)
	_, err := m.RequestTransition(context.Background(), transition(model.StatePendingReview, ""))
	require.Error(t, err)
	assert.Equal(t, model.KindStore, model.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
	ms.AssertExpectations(t)
}

func TestRequestTransition_WriteCarriesExpectedVersion(t *testing.T) {
	ms := &mockStore{}
	cur := &model.WorkflowState{Key: birthKey, CurrentState: model.StateVerified, Version: 4}
	ms.On("GetCertificate", mock.Anything, birthKey).Return(&model.Certificate{Key: birthKey}, nil)
	ms.On("GetWorkflowState", mock.Anything, birthKey).Return(cur, nil)
	ms.On("ApplyTransition", mock.Anything, mock.MatchedBy(func(w model.TransitionWrite) bool {
		return w.Exists && w.ExpectedVersion == 4 && w.Next.Version == 5 &&
			w.Next.Approved != nil && w.Next.Approved.By == "clerk-1" &&
			w.Record.FromState == model.StateVerified && w.Record.ToState == model.StateApproved
	})).Return(&model.AppliedTransition{
		State:  model.WorkflowState{Key: birthKey, CurrentState: model.StateApproved, Version: 5},
		Record: model.TransitionRecord{ID: 31, Key: birthKey, FromState: model.StateVerified, ToState: model.StateApproved},
	}, nil)

	m := newTestMachine(ms, ReopenAny)
	res, err := m.RequestTransition(context.Background(), transition(model.StateApproved, ""))
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, res.NewState)
	assert.Equal(t, int64(5), res.Workflow.Version)
	assert.Equal(t, int64(31), res.Record.ID)
	ms.AssertExpectations(t)
}

func TestState_ImplicitDraft(t *testing.T) {
	m := newTestMachine(newMemStore(birthKey), ReopenAny)
	st, err := m.State(context.Background(), birthKey)
	require.NoError(t, err)
	assert.Equal(t, model.StateDraft, st.CurrentState)
	assert.Nil(t, st.DataQualityScore)
}

func TestRecordQualityScore(t *testing.T) {
	st := newMemStore(birthKey)
	m := newTestMachine(st, ReopenAny)
	ctx := context.Background()

	require.NoError(t, m.RecordQualityScore(ctx, birthKey, 85))
	got := st.state(birthKey)
	require.NotNil(t, got.DataQualityScore)
	assert.Equal(t, 85, *got.DataQualityScore)
	assert.Equal(t, model.StateDraft, got.CurrentState)
	assert.Equal(t, int64(0), got.Version)

	// A transition after scoring keeps the score.
	res, err := m.RequestTransition(ctx, transition(model.StatePendingReview, ""))
	require.NoError(t, err)
	require.NotNil(t, res.Workflow.DataQualityScore)
	assert.Equal(t, 85, *res.Workflow.DataQualityScore)

	err = m.RecordQualityScore(ctx, birthKey, 101)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}

// scoreAfterRead stores a quality score once, right after the machine has
// read the workflow row.
type scoreAfterRead struct {
	*memStore
	once sync.Once
}

func (s *scoreAfterRead) GetWorkflowState(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error) {
	st, err := s.memStore.GetWorkflowState(ctx, key)
	s.once.Do(func() {
		_ = s.memStore.SaveQualityScore(ctx, key, 77, time.Now()) //nolint:errcheck
	})
	return st, err
}

func TestRequestTransition_ClaimsDraftCreatedByScore(t *testing.T) {
	st := &scoreAfterRead{memStore: newMemStore(birthKey)}
	m := newTestMachine(st, ReopenAny)

	res, err := m.RequestTransition(context.Background(), transition(model.StatePendingReview, ""))
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingReview, res.NewState)
	assert.Equal(t, int64(1), res.Record.ID)

	got := st.state(birthKey)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.DataQualityScore)
	assert.Equal(t, 77, *got.DataQualityScore)
}
