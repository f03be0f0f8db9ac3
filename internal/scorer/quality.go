package scorer

import (
	"math"

	"github.com/sells-group/civil-registry/internal/config"
	"github.com/sells-group/civil-registry/internal/model"
)

// Scorer computes data-quality scores. It is stateless and safe for
// concurrent use.
type Scorer struct {
	cfg config.ScorerConfig
}

// New creates a Scorer. Callers should run ValidateConfig first.
func New(cfg config.ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Deduction returns the points a single open discrepancy costs.
func (s *Scorer) Deduction(sev model.Severity) int {
	switch sev {
	case model.SeverityHigh:
		return s.cfg.HighDeduction
	case model.SeverityMedium:
		return s.cfg.MediumDeduction
	case model.SeverityLow:
		return s.cfg.LowDeduction
	default:
		return 0
	}
}

// Deducted returns 100 minus the deductions of every open discrepancy,
// floored at 0. Resolved and dismissed rows cost nothing.
func (s *Scorer) Deducted(discrepancies []model.Discrepancy) int {
	score := 100
	for _, d := range discrepancies {
		if d.Status != "" && d.Status != model.DiscrepancyOpen {
			continue
		}
		score -= s.Deduction(d.Severity)
	}
	if score < 0 {
		return 0
	}
	return score
}

// Score blends the deducted score with the document-level OCR confidence.
// A nil confidence means no OCR ran; the deducted score is returned as-is
// rather than treating missing evidence as zero confidence.
func (s *Scorer) Score(discrepancies []model.Discrepancy, docConfidence *float64) int {
	deducted := s.Deducted(discrepancies)
	if docConfidence == nil {
		return deducted
	}

	conf := clamp(*docConfidence, 0, 100)
	w := s.cfg.DeductionWeight
	final := math.Round(w*float64(deducted) + (1-w)*conf)
	return int(clamp(final, 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
