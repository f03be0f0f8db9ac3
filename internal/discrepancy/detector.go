// Package discrepancy compares certificate form data with OCR output and
// maintains the open discrepancy set for each certificate.
package discrepancy

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/civil-registry/internal/compare"
	"github.com/sells-group/civil-registry/internal/model"
)

// Store is the persistence the detector needs. ReconcileDiscrepancies must
// lock the certificate's discrepancy rows, call plan with the open set, apply
// the returned changes and return the resulting open set, all in one
// transaction.
type Store interface {
	ReconcileDiscrepancies(ctx context.Context, key model.CertificateKey, plan func(open []model.Discrepancy) ([]model.DiscrepancyChange, error)) ([]model.Discrepancy, error)
	OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error)
}

// Detection is the outcome of one detection pass.
type Detection struct {
	Discrepancies []model.Discrepancy       `json:"discrepancies"`
	Status        model.DetectionStatus     `json:"status"`
	Outcomes      []FieldOutcome            `json:"-"`
	Changes       []model.DiscrepancyChange `json:"-"`
}

// Detector runs field comparisons and reconciles the results with stored
// discrepancies.
type Detector struct {
	store  Store
	fields *model.FieldRegistry
	cmp    compare.Comparator
	locks  *keyedMutex
	now    func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(st Store, fields *model.FieldRegistry, cmp compare.Comparator) *Detector {
	return &Detector{
		store:  st,
		fields: fields,
		cmp:    cmp,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Detect compares cert against ext and returns the certificate's full set of
// open discrepancies. A nil extraction means no PDF has been processed: the
// result is empty with status OCR_UNAVAILABLE and nothing is written.
func (d *Detector) Detect(ctx context.Context, cert *model.Certificate, ext *model.OCRExtraction) (*Detection, error) {
	if cert == nil {
		return nil, eris.Wrap(model.ErrInvalidInput, "discrepancy: nil certificate")
	}
	log := zap.L().With(
		zap.String("component", "discrepancy.detector"),
		zap.String("certificate_type", string(cert.Key.Type)),
		zap.Int64("certificate_id", cert.Key.ID),
	)

	if ext == nil {
		log.Debug("discrepancy: no OCR extraction, skipping detection")
		return &Detection{Discrepancies: []model.Discrepancy{}, Status: model.DetectionOCRUnavailable}, nil
	}

	now := d.now()
	outcomes := Evaluate(d.cmp, d.fields.Tracked(cert.Key.Type), cert, ext, now)

	unlock := d.locks.Lock(cert.Key)
	defer unlock()

	var changes []model.DiscrepancyChange
	open, err := d.store.ReconcileDiscrepancies(ctx, cert.Key, func(existing []model.Discrepancy) ([]model.DiscrepancyChange, error) {
		changes = Reconcile(existing, outcomes, now)
		return changes, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "discrepancy: reconcile")
	}
	if open == nil {
		open = []model.Discrepancy{}
	}

	log.Info("discrepancy: detection complete",
		zap.Int("fields_compared", len(outcomes)),
		zap.Int("changes", len(changes)),
		zap.Int("open", len(open)),
	)

	return &Detection{
		Discrepancies: open,
		Status:        model.DetectionOK,
		Outcomes:      outcomes,
		Changes:       changes,
	}, nil
}

// keyedMutex serializes reconciliation per certificate inside one process.
// The store transaction provides the same guarantee across processes.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[model.CertificateKey]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[model.CertificateKey]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key model.CertificateKey) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
