// Package verify is the entry point of the verification core. It wires the
// detector, scorer, state machine and query service over one store.
package verify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/civil-registry/internal/compare"
	"github.com/sells-group/civil-registry/internal/config"
	"github.com/sells-group/civil-registry/internal/discrepancy"
	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/ocr"
	"github.com/sells-group/civil-registry/internal/query"
	"github.com/sells-group/civil-registry/internal/registry"
	"github.com/sells-group/civil-registry/internal/scorer"
	"github.com/sells-group/civil-registry/internal/store"
	"github.com/sells-group/civil-registry/internal/workflow"
)

// DetectResult is the outcome of DetectAndScore.
type DetectResult struct {
	Key           model.CertificateKey  `json:"key"`
	Discrepancies []model.Discrepancy   `json:"discrepancies"`
	QualityScore  int                   `json:"quality_score"`
	Status        model.DetectionStatus `json:"status"`
	// Persisted is false when no OCR ran and the score was only computed.
	Persisted    bool   `json:"persisted"`
	ExtractionID string `json:"extraction_id,omitempty"`
}

// RescoreSummary counts the outcomes of a batch rescore.
type RescoreSummary struct {
	Total          int `json:"total"`
	Scored         int `json:"scored"`
	OCRUnavailable int `json:"ocr_unavailable"`
	Failed         int `json:"failed"`
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	Fields         *model.FieldRegistry
	Extractor      ocr.Extractor
	MaxConcurrency int
	PageSize       int
}

// Service exposes detection, scoring, transitions and listings.
type Service struct {
	store     store.Store
	fields    *model.FieldRegistry
	detector  *discrepancy.Detector
	scorer    *scorer.Scorer
	machine   *workflow.Machine
	queries   *query.Service
	extractor ocr.Extractor
	batch     int
}

// New builds a Service from configuration.
func New(st store.Store, cfg *config.Config, opts Options) (*Service, error) {
	if err := scorer.ValidateConfig(cfg.Scorer); err != nil {
		return nil, eris.Wrap(err, "verify: scorer config")
	}
	policy, err := workflow.ParseReopenPolicy(cfg.Workflow.ReopenTarget)
	if err != nil {
		return nil, eris.Wrap(err, "verify: workflow config")
	}

	fields := opts.Fields
	if fields == nil {
		fields, err = registry.Load(cfg.Verify.FieldsFile)
		if err != nil {
			return nil, eris.Wrap(err, "verify: tracked fields")
		}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = cfg.Verify.PageSize
	}
	batch := opts.MaxConcurrency
	if batch <= 0 {
		batch = cfg.Batch.MaxConcurrency
	}
	if batch <= 0 {
		batch = 1
	}

	cmp := compare.New(cfg.Verify.LowConfidenceThreshold)
	return &Service{
		store:     st,
		fields:    fields,
		detector:  discrepancy.NewDetector(st, fields, cmp),
		scorer:    scorer.New(cfg.Scorer),
		machine:   workflow.NewMachine(st, policy),
		queries:   query.NewService(st, pageSize),
		extractor: opts.Extractor,
		batch:     batch,
	}, nil
}

// Machine exposes the state machine for callers that need its helpers.
func (s *Service) Machine() *workflow.Machine { return s.machine }

// Queries exposes the read-side service.
func (s *Service) Queries() *query.Service { return s.queries }

// DetectAndScore compares the certificate with its latest OCR extraction,
// reconciles discrepancies and stores the resulting quality score.
//
// Without an extraction nothing is written: the result has no
// discrepancies, status OCR_UNAVAILABLE and the unblended score of the
// discrepancies already open.
func (s *Service) DetectAndScore(ctx context.Context, key model.CertificateKey) (*DetectResult, error) {
	if !key.Type.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidInput, "verify: unknown certificate type %q", key.Type)
	}
	cert, err := s.store.GetCertificate(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "verify: get certificate")
	}
	ext, err := s.store.LatestExtraction(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "verify: latest extraction")
	}

	det, err := s.detector.Detect(ctx, cert, ext)
	if err != nil {
		return nil, eris.Wrap(err, "verify: detect")
	}

	res := &DetectResult{Key: key, Discrepancies: det.Discrepancies, Status: det.Status}
	if det.Status == model.DetectionOCRUnavailable {
		prior, err := s.store.OpenDiscrepancies(ctx, key)
		if err != nil {
			return nil, eris.Wrap(err, "verify: prior discrepancies")
		}
		res.QualityScore = s.scorer.Score(prior, nil)
		return res, nil
	}

	conf := ext.DocumentConfidence
	res.QualityScore = s.scorer.Score(det.Discrepancies, &conf)
	res.ExtractionID = ext.ID
	if err := s.machine.RecordQualityScore(ctx, key, res.QualityScore); err != nil {
		return nil, eris.Wrap(err, "verify: record score")
	}
	res.Persisted = true

	zap.L().Info("verify: certificate scored",
		zap.String("certificate_type", string(key.Type)),
		zap.Int64("certificate_id", key.ID),
		zap.Int("open_discrepancies", len(det.Discrepancies)),
		zap.Int("quality_score", res.QualityScore),
	)
	return res, nil
}

// AllowedTransitions returns the states reachable from `from` under the
// configured reopen policy.
func (s *Service) AllowedTransitions(from model.State) []model.State {
	return workflow.AllowedTransitions(from, s.machine.Policy())
}

// RequestTransition validates and applies a workflow transition.
func (s *Service) RequestTransition(ctx context.Context, req workflow.TransitionRequest) (*workflow.TransitionResult, error) {
	return s.machine.RequestTransition(ctx, req)
}

// WorkflowState returns the certificate's current workflow record.
func (s *Service) WorkflowState(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error) {
	return s.machine.State(ctx, key)
}

// History returns the certificate's transition audit trail.
func (s *Service) History(ctx context.Context, key model.CertificateKey) ([]model.TransitionRecord, error) {
	return s.machine.History(ctx, key)
}

// GetWorkflowCounts returns the record count of every workflow state.
func (s *Service) GetWorkflowCounts(ctx context.Context) (map[model.State]int, error) {
	return s.queries.CountsByState(ctx)
}

// ListWorkflow lists workflow records, newest first.
func (s *Service) ListWorkflow(ctx context.Context, f model.WorkflowFilter) ([]model.WorkflowRecord, error) {
	return s.queries.ListRecords(ctx, f)
}

// ReviewQueue lists pending reviews, lowest quality first.
func (s *Service) ReviewQueue(ctx context.Context, t model.CertificateType, limit int) ([]model.WorkflowRecord, error) {
	return s.queries.ReviewQueue(ctx, t, limit)
}

// OpenDiscrepancies lists the certificate's open discrepancies.
func (s *Service) OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error) {
	if _, err := s.store.GetCertificate(ctx, key); err != nil {
		return nil, eris.Wrap(err, "verify: get certificate")
	}
	return s.queries.OpenDiscrepancies(ctx, key)
}

// IngestExtraction runs OCR over pdfPath, stores the extraction and then
// detects and scores. An OCR failure is logged and detection proceeds with
// whatever extraction was stored before, possibly none.
func (s *Service) IngestExtraction(ctx context.Context, key model.CertificateKey, pdfPath string) (*DetectResult, error) {
	if s.extractor == nil {
		return nil, eris.Wrap(model.ErrInvalidInput, "verify: no OCR extractor configured")
	}
	if !key.Type.Valid() {
		return nil, eris.Wrapf(model.ErrInvalidInput, "verify: unknown certificate type %q", key.Type)
	}
	if _, err := s.store.GetCertificate(ctx, key); err != nil {
		return nil, eris.Wrap(err, "verify: get certificate")
	}

	ext, err := s.extractor.Extract(ctx, key, pdfPath, s.fields.Tracked(key.Type))
	if err != nil {
		zap.L().Warn("verify: OCR failed, using stored extraction",
			zap.String("certificate_type", string(key.Type)),
			zap.Int64("certificate_id", key.ID),
			zap.String("pdf", pdfPath),
			zap.Error(err),
		)
	} else {
		ext.Key = key
		if err := s.store.SaveExtraction(ctx, ext); err != nil {
			return nil, eris.Wrap(err, "verify: save extraction")
		}
	}
	return s.DetectAndScore(ctx, key)
}

// Rescore runs DetectAndScore for every live certificate, optionally of one
// type, with bounded concurrency. Per-certificate failures are counted and
// logged; only cancellation or a failure to list certificates aborts.
func (s *Service) Rescore(ctx context.Context, t model.CertificateType) (*RescoreSummary, error) {
	keys, err := s.store.ListCertificateKeys(ctx, t)
	if err != nil {
		return nil, eris.Wrap(err, "verify: list certificates")
	}

	var scored, unavailable, failed atomic.Int64
	var mu sync.Mutex
	var firstCtxErr error

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.batch)
	for _, key := range keys {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				mu.Lock()
				if firstCtxErr == nil {
					firstCtxErr = err
				}
				mu.Unlock()
				return nil
			}
			res, err := s.DetectAndScore(gCtx, key)
			if err != nil {
				failed.Add(1)
				zap.L().Warn("verify: rescore failed",
					zap.String("certificate_type", string(key.Type)),
					zap.Int64("certificate_id", key.ID),
					zap.Error(err),
				)
				return nil
			}
			if res.Status == model.DetectionOCRUnavailable {
				unavailable.Add(1)
			} else {
				scored.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if firstCtxErr != nil {
		return nil, eris.Wrap(firstCtxErr, "verify: rescore cancelled")
	}
	sum := &RescoreSummary{
		Total:          len(keys),
		Scored:         int(scored.Load()),
		OCRUnavailable: int(unavailable.Load()),
		Failed:         int(failed.Load()),
	}
	zap.L().Info("verify: rescore complete",
		zap.Int("total", sum.Total),
		zap.Int("scored", sum.Scored),
		zap.Int("ocr_unavailable", sum.OCRUnavailable),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}
