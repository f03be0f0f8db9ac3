// Package scorer turns open discrepancies and OCR confidence into a 0-100
// data-quality score used to prioritize review.
package scorer

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/config"
)

// DefaultScorerConfig returns a config.ScorerConfig with the standard
// severity deductions and a 70/30 deduction/OCR blend.
func DefaultScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		HighDeduction:   15,
		MediumDeduction: 7,
		LowDeduction:    2,
		DeductionWeight: 0.7,
	}
}

// ValidateConfig checks that a ScorerConfig is internally consistent.
func ValidateConfig(c config.ScorerConfig) error {
	var errs []string

	if c.HighDeduction < 0 || c.MediumDeduction < 0 || c.LowDeduction < 0 {
		errs = append(errs, "deductions must be >= 0")
	}
	// Monotonic severities keep "high" the most expensive finding.
	if c.HighDeduction < c.MediumDeduction || c.MediumDeduction < c.LowDeduction {
		errs = append(errs, "deductions must satisfy high >= medium >= low")
	}
	if c.DeductionWeight < 0 || c.DeductionWeight > 1 {
		errs = append(errs, "deduction_weight must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
