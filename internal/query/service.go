package query

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
)

// Reader is the persisted state the query service aggregates.
type Reader interface {
	CountWorkflowByState(ctx context.Context) (map[model.State]int, error)
	ListWorkflow(ctx context.Context, f model.WorkflowFilter, pageSize int) ([]model.WorkflowRecord, error)
	OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error)
	QualityStats(ctx context.Context, state model.State) (*model.QualityStats, error)
}

// Service answers dashboard and listing questions. It never writes.
type Service struct {
	reader   Reader
	pageSize int
}

// NewService creates a Service. A pageSize outside 1..DefaultPageSize
// falls back to DefaultPageSize.
func NewService(r Reader, pageSize int) *Service {
	return &Service{reader: r, pageSize: ClampLimit(0, pageSize)}
}

// PageSize is the effective listing cap.
func (s *Service) PageSize() int { return s.pageSize }

// CountsByState returns the number of workflow records in every state.
// States with no records are present with a zero count.
func (s *Service) CountsByState(ctx context.Context) (map[model.State]int, error) {
	counts, err := s.reader.CountWorkflowByState(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "query: counts by state")
	}
	out := make(map[model.State]int, len(model.States))
	for _, st := range model.States {
		out[st] = counts[st]
	}
	return out, nil
}

// ListRecords returns workflow records matching f, most recently updated
// first.
func (s *Service) ListRecords(ctx context.Context, f model.WorkflowFilter) ([]model.WorkflowRecord, error) {
	f.QueueOrder = false
	f.Limit = ClampLimit(f.Limit, s.pageSize)
	recs, err := s.reader.ListWorkflow(ctx, f, s.pageSize)
	if err != nil {
		return nil, eris.Wrap(err, "query: list records")
	}
	if recs == nil {
		recs = []model.WorkflowRecord{}
	}
	return recs, nil
}

// ReviewQueue lists certificates awaiting review, lowest quality score
// first. Unscored records sort last.
func (s *Service) ReviewQueue(ctx context.Context, t model.CertificateType, limit int) ([]model.WorkflowRecord, error) {
	recs, err := s.reader.ListWorkflow(ctx, model.WorkflowFilter{
		State:      model.StatePendingReview,
		Type:       t,
		Limit:      ClampLimit(limit, s.pageSize),
		QueueOrder: true,
	}, s.pageSize)
	if err != nil {
		return nil, eris.Wrap(err, "query: review queue")
	}
	if recs == nil {
		recs = []model.WorkflowRecord{}
	}
	return recs, nil
}

// OpenDiscrepancies returns the open discrepancies of one certificate.
func (s *Service) OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error) {
	if !key.Type.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidInput, "query: unknown certificate type %q", key.Type)
	}
	open, err := s.reader.OpenDiscrepancies(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "query: open discrepancies")
	}
	if open == nil {
		open = []model.Discrepancy{}
	}
	return open, nil
}

// QualityStats averages stored quality scores of records in state.
func (s *Service) QualityStats(ctx context.Context, state model.State) (*model.QualityStats, error) {
	if !state.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidInput, "query: unknown state %q", state)
	}
	stats, err := s.reader.QualityStats(ctx, state)
	if err != nil {
		return nil, eris.Wrap(err, "query: quality stats")
	}
	return stats, nil
}
