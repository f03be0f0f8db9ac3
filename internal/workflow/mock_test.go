package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/civil-registry/internal/model"
)

// mockStore implements Store for error-path tests.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetCertificate(ctx context.Context, key model.CertificateKey) (*model.Certificate, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Certificate), args.Error(1)
}

func (m *mockStore) GetWorkflowState(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkflowState), args.Error(1)
}

func (m *mockStore) ApplyTransition(ctx context.Context, w model.TransitionWrite) (*model.AppliedTransition, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AppliedTransition), args.Error(1)
}

func (m *mockStore) SaveQualityScore(ctx context.Context, key model.CertificateKey, score int, at time.Time) error {
	args := m.Called(ctx, key, score, at)
	return args.Error(0)
}

func (m *mockStore) ListTransitions(ctx context.Context, key model.CertificateKey) ([]model.TransitionRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TransitionRecord), args.Error(1)
}

// memStore is an in-memory Store with the same version semantics as the SQL
// stores. readBarrier, when set, holds the first barrierReads
// GetWorkflowState calls until all of them have arrived.
type memStore struct {
	mu           sync.Mutex
	certs        map[model.CertificateKey]*model.Certificate
	states       map[model.CertificateKey]model.WorkflowState
	records      []model.TransitionRecord
	readBarrier  *sync.WaitGroup
	barrierReads int
}

func newMemStore(keys ...model.CertificateKey) *memStore {
	m := &memStore{
		certs:  make(map[model.CertificateKey]*model.Certificate),
		states: make(map[model.CertificateKey]model.WorkflowState),
	}
	for _, k := range keys {
		m.certs[k] = &model.Certificate{Key: k}
	}
	return m
}

func (m *memStore) GetCertificate(_ context.Context, key model.CertificateKey) (*model.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return c, nil
}

func (m *memStore) GetWorkflowState(_ context.Context, key model.CertificateKey) (*model.WorkflowState, error) {
	m.mu.Lock()
	st, ok := m.states[key]
	var barrier *sync.WaitGroup
	if m.barrierReads > 0 {
		m.barrierReads--
		barrier = m.readBarrier
	}
	m.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *memStore) ApplyTransition(_ context.Context, w model.TransitionWrite) (*model.AppliedTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.states[w.Next.Key]
	untouchedDraft := ok && cur.Version == 0 && cur.CurrentState == model.StateDraft
	switch {
	case w.Exists && (!ok || cur.Version != w.ExpectedVersion):
		return nil, model.ErrConflict
	case !w.Exists && ok && !untouchedDraft:
		return nil, model.ErrConflict
	}
	next := w.Next
	if ok {
		next.DataQualityScore = cur.DataQualityScore
	}
	m.states[w.Next.Key] = next
	rec := w.Record
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return &model.AppliedTransition{State: next, Record: rec}, nil
}

func (m *memStore) SaveQualityScore(_ context.Context, key model.CertificateKey, score int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	if !ok {
		st = model.NewWorkflowState(key)
	}
	st.DataQualityScore = &score
	st.UpdatedAt = at
	m.states[key] = st
	return nil
}

func (m *memStore) ListTransitions(_ context.Context, key model.CertificateKey) ([]model.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TransitionRecord
	for _, r := range m.records {
		if r.Key == key {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) setState(key model.CertificateKey, s model.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	if !ok {
		st = model.NewWorkflowState(key)
	}
	st.CurrentState = s
	st.Version++
	m.states[key] = st
}

func (m *memStore) state(key model.CertificateKey) model.WorkflowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key]
}
