// Package compare decides whether a manually entered form value agrees with
// the value OCR read from the scanned certificate.
package compare

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/civil-registry/internal/model"
)

// DefaultLowConfidenceThreshold is the OCR confidence (0-100) below which an
// apparent match is not trusted.
const DefaultLowConfidenceThreshold = 60.0

// Result is the verdict for a single field. Verdict is empty when Matched.
type Result struct {
	Matched        bool                  `json:"matched"`
	Verdict        model.DiscrepancyType `json:"verdict,omitempty"`
	NormalizedForm string                `json:"normalized_form"`
	NormalizedOCR  string                `json:"normalized_ocr"`
	Confidence     float64               `json:"confidence"`
}

// Comparator compares form values with OCR values. The zero value uses
// DefaultLowConfidenceThreshold.
type Comparator struct {
	LowConfidenceThreshold float64
}

// New creates a Comparator with the given low-confidence threshold.
func New(lowConfidenceThreshold float64) Comparator {
	return Comparator{LowConfidenceThreshold: lowConfidenceThreshold}
}

func (c Comparator) threshold() float64 {
	if c.LowConfidenceThreshold <= 0 {
		return DefaultLowConfidenceThreshold
	}
	return c.LowConfidenceThreshold
}

// Compare normalizes both values according to the field kind and classifies
// the pair. Presence and value verdicts take precedence over low confidence;
// low confidence is reported only when the values agree. Two empty values
// always match.
func (c Comparator) Compare(field model.FieldSpec, formValue, ocrValue string, ocrConfidence float64) Result {
	nf := Normalize(field.Kind, formValue)
	no := Normalize(field.Kind, ocrValue)

	res := Result{
		NormalizedForm: nf,
		NormalizedOCR:  no,
		Confidence:     ocrConfidence,
	}

	switch {
	case nf == "" && no == "":
		res.Matched = true
		return res
	case nf == "":
		res.Verdict = model.DiscrepancyMissingInForm
		return res
	case no == "":
		res.Verdict = model.DiscrepancyMissingInPDF
		return res
	case nf != no:
		res.Verdict = model.DiscrepancyValueMismatch
		return res
	}

	if ocrConfidence < c.threshold() {
		res.Verdict = model.DiscrepancyLowConfidence
		return res
	}

	res.Matched = true
	return res
}

// Normalize returns the comparison form of s. Text is NFKC-normalized, case
// folded and whitespace collapsed. Dates that parse are rendered as
// YYYY-MM-DD; unparseable dates fall back to text normalization.
func Normalize(kind model.FieldKind, s string) string {
	collapsed := strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
	if collapsed == "" {
		return ""
	}
	if kind == model.FieldDate {
		if d, ok := ParseDate(collapsed); ok {
			return d.Format("2006-01-02")
		}
	}
	return cases.Fold().String(collapsed)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"Jan. 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"2 Jan, 2006",
	"2 January, 2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 Jan 2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseDate parses s against the accepted certificate date layouts and
// returns the calendar date at UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
	s = stripOrdinal(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// stripOrdinal turns "March 10th, 2024" into "March 10, 2024".
func stripOrdinal(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		trail := ""
		if strings.HasSuffix(w, ",") {
			trail = ","
			w = strings.TrimSuffix(w, ",")
		}
		lw := strings.ToLower(w)
		for _, suf := range []string{"st", "nd", "rd", "th"} {
			if len(lw) > len(suf) && strings.HasSuffix(lw, suf) && isDigits(lw[:len(lw)-len(suf)]) {
				w = w[:len(w)-len(suf)]
				break
			}
		}
		words[i] = w + trail
	}
	return strings.Join(words, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
