package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/civil-registry/internal/model"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) CountWorkflowByState(ctx context.Context) (map[model.State]int, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[model.State]int)
	return counts, args.Error(1)
}

func (m *mockReader) ListWorkflow(ctx context.Context, f model.WorkflowFilter, pageSize int) ([]model.WorkflowRecord, error) {
	args := m.Called(ctx, f, pageSize)
	recs, _ := args.Get(0).([]model.WorkflowRecord)
	return recs, args.Error(1)
}

func (m *mockReader) OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error) {
	args := m.Called(ctx, key)
	open, _ := args.Get(0).([]model.Discrepancy)
	return open, args.Error(1)
}

func (m *mockReader) QualityStats(ctx context.Context, state model.State) (*model.QualityStats, error) {
	args := m.Called(ctx, state)
	stats, _ := args.Get(0).(*model.QualityStats)
	return stats, args.Error(1)
}

func TestNewService_PageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NewService(nil, 0).PageSize())
	assert.Equal(t, DefaultPageSize, NewService(nil, 5000).PageSize())
	assert.Equal(t, 25, NewService(nil, 25).PageSize())
}

func TestCountsByState_ZeroFills(t *testing.T) {
	r := new(mockReader)
	r.On("CountWorkflowByState", mock.Anything).
		Return(map[model.State]int{model.StatePendingReview: 4}, nil)

	counts, err := NewService(r, 0).CountsByState(context.Background())
	require.NoError(t, err)
	assert.Len(t, counts, len(model.States))
	assert.Equal(t, 4, counts[model.StatePendingReview])
	assert.Equal(t, 0, counts[model.StateDraft])
	r.AssertExpectations(t)
}

func TestCountsByState_StoreError(t *testing.T) {
	r := new(mockReader)
	r.On("CountWorkflowByState", mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewService(r, 0).CountsByState(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.KindStore, model.KindOf(err))
}

func TestListRecords_ClampsLimit(t *testing.T) {
	r := new(mockReader)
	r.On("ListWorkflow", mock.Anything, model.WorkflowFilter{State: model.StateApproved, Limit: 100}, 100).
		Return(nil, nil)

	recs, err := NewService(r, 0).ListRecords(context.Background(), model.WorkflowFilter{
		State:      model.StateApproved,
		Limit:      10000,
		QueueOrder: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
	r.AssertExpectations(t)
}

func TestReviewQueue_Filter(t *testing.T) {
	r := new(mockReader)
	want := []model.WorkflowRecord{{WorkflowState: model.WorkflowState{CurrentState: model.StatePendingReview}}}
	r.On("ListWorkflow", mock.Anything, model.WorkflowFilter{
		State:      model.StatePendingReview,
		Type:       model.CertificateBirth,
		Limit:      20,
		QueueOrder: true,
	}, 50).Return(want, nil)

	got, err := NewService(r, 50).ReviewQueue(context.Background(), model.CertificateBirth, 20)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	r.AssertExpectations(t)
}

func TestOpenDiscrepancies(t *testing.T) {
	key := model.CertificateKey{Type: model.CertificateDeath, ID: 3}
	r := new(mockReader)
	r.On("OpenDiscrepancies", mock.Anything, key).Return(nil, nil)

	s := NewService(r, 0)
	open, err := s.OpenDiscrepancies(context.Background(), key)
	require.NoError(t, err)
	assert.NotNil(t, open)

	_, err = s.OpenDiscrepancies(context.Background(), model.CertificateKey{Type: "adoption", ID: 3})
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
	r.AssertNumberOfCalls(t, "OpenDiscrepancies", 1)
}

func TestQualityStats(t *testing.T) {
	r := new(mockReader)
	r.On("QualityStats", mock.Anything, model.StatePendingReview).
		Return(&model.QualityStats{State: model.StatePendingReview, Average: 71.5, Scored: 2}, nil)

	s := NewService(r, 0)
	stats, err := s.QualityStats(context.Background(), model.StatePendingReview)
	require.NoError(t, err)
	assert.InDelta(t, 71.5, stats.Average, 0.0001)

	_, err = s.QualityStats(context.Background(), "limbo")
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
}
