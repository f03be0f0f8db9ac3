// Package ocr reads uploaded certificate PDFs into OCR extractions.
package ocr

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/config"
	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/resilience"
)

// Extractor reads one PDF for a certificate. Tracked names the fields the
// caller wants values for; an extractor may return more or fewer.
type Extractor interface {
	Extract(ctx context.Context, key model.CertificateKey, pdfPath string, tracked []model.FieldSpec) (*model.OCRExtraction, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local":
		return NewPdfToText(cfg.PdfToTextPath, cfg.DefaultConfidence), nil
	case "http", "":
		if cfg.Endpoint == "" {
			return nil, eris.New("ocr: http provider requires ocr.endpoint")
		}
		return NewHTTPService(HTTPOptions{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			RatePerSec: cfg.RatePerSec,
			Timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
			Backoff:    resilience.Backoff{Attempts: cfg.MaxAttempts},
			Breaker:    resilience.NewBreaker("ocr", cfg.BreakerThreshold, time.Duration(cfg.BreakerResetSecs)*time.Second),
		}), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
