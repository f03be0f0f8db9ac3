// Package store persists certificates, OCR extractions, discrepancies and
// workflow state in Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/sells-group/civil-registry/internal/model"
)

// Store defines the persistence interface for the verification core.
type Store interface {
	// Certificates (owned by the form-entry system; written here only by
	// imports and fixtures)
	GetCertificate(ctx context.Context, key model.CertificateKey) (*model.Certificate, error)
	UpsertCertificate(ctx context.Context, cert model.Certificate) error
	ImportCertificates(ctx context.Context, certs []model.Certificate) (int64, error)
	ListCertificateKeys(ctx context.Context, t model.CertificateType) ([]model.CertificateKey, error)

	// OCR extractions
	SaveExtraction(ctx context.Context, ext *model.OCRExtraction) error
	LatestExtraction(ctx context.Context, key model.CertificateKey) (*model.OCRExtraction, error)

	// Discrepancies
	ReconcileDiscrepancies(ctx context.Context, key model.CertificateKey, plan func(open []model.Discrepancy) ([]model.DiscrepancyChange, error)) ([]model.Discrepancy, error)
	OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error)

	// Workflow
	GetWorkflowState(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error)
	ApplyTransition(ctx context.Context, w model.TransitionWrite) (*model.AppliedTransition, error)
	SaveQualityScore(ctx context.Context, key model.CertificateKey, score int, at time.Time) error
	ListTransitions(ctx context.Context, key model.CertificateKey) ([]model.TransitionRecord, error)
	CountWorkflowByState(ctx context.Context) (map[model.State]int, error)
	ListWorkflow(ctx context.Context, f model.WorkflowFilter, pageSize int) ([]model.WorkflowRecord, error)
	QualityStats(ctx context.Context, state model.State) (*model.QualityStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
