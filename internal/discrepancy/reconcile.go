package discrepancy

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/civil-registry/internal/compare"
	"github.com/sells-group/civil-registry/internal/model"
)

// SeverityFor applies the fixed severity table: value mismatches on identity
// fields are high, other mismatches and missing values are medium, and a
// low-confidence match is low.
func SeverityFor(field model.FieldSpec, t model.DiscrepancyType) model.Severity {
	switch t {
	case model.DiscrepancyValueMismatch:
		if field.Identity {
			return model.SeverityHigh
		}
		return model.SeverityMedium
	case model.DiscrepancyMissingInForm, model.DiscrepancyMissingInPDF:
		return model.SeverityMedium
	case model.DiscrepancyLowConfidence:
		return model.SeverityLow
	default:
		return model.SeverityLow
	}
}

// FieldOutcome is the comparison result for one tracked field.
type FieldOutcome struct {
	Field   model.FieldSpec
	Result  compare.Result
	Finding *model.Discrepancy
}

// Evaluate compares every tracked field of cert against ext. Findings carry
// no ID; Reconcile assigns one when a row is inserted.
func Evaluate(cmp compare.Comparator, fields []model.FieldSpec, cert *model.Certificate, ext *model.OCRExtraction, now time.Time) []FieldOutcome {
	out := make([]FieldOutcome, 0, len(fields))
	for _, f := range fields {
		formValue := cert.Field(f.Name)
		extracted := ext.FieldValue(f.Name)
		res := cmp.Compare(f, formValue, extracted.Value, extracted.Confidence)

		o := FieldOutcome{Field: f, Result: res}
		if !res.Matched {
			o.Finding = &model.Discrepancy{
				Key:        cert.Key,
				FieldName:  f.Name,
				FormValue:  formValue,
				PDFValue:   extracted.Value,
				Type:       res.Verdict,
				Severity:   SeverityFor(f, res.Verdict),
				Status:     model.DiscrepancyOpen,
				DetectedAt: now,
			}
		}
		out = append(out, o)
	}
	return out
}

// Reconcile plans the writes that bring the stored open discrepancies in line
// with a fresh evaluation:
//   - a new finding on a field with no open row is inserted;
//   - a changed finding updates the open row in place, refreshing detected_at;
//   - an unchanged finding leaves the open row untouched;
//   - a field that now matches resolves its open row.
//
// Open rows for fields that were not evaluated are left alone.
func Reconcile(existing []model.Discrepancy, outcomes []FieldOutcome, now time.Time) []model.DiscrepancyChange {
	openByField := make(map[string]model.Discrepancy, len(existing))
	for _, d := range existing {
		if d.Status == model.DiscrepancyOpen {
			openByField[d.FieldName] = d
		}
	}

	var changes []model.DiscrepancyChange
	for _, o := range outcomes {
		cur, hasOpen := openByField[o.Field.Name]

		switch {
		case o.Finding == nil && hasOpen:
			resolved := cur
			resolved.Status = model.DiscrepancyResolved
			resolved.ResolvedAt = &now
			changes = append(changes, model.DiscrepancyChange{Op: model.ChangeResolve, Discrepancy: resolved})

		case o.Finding != nil && !hasOpen:
			ins := *o.Finding
			ins.ID = uuid.New().String()
			ins.DetectedAt = now
			changes = append(changes, model.DiscrepancyChange{Op: model.ChangeInsert, Discrepancy: ins})

		case o.Finding != nil && hasOpen && !cur.SameFinding(*o.Finding):
			upd := *o.Finding
			upd.ID = cur.ID
			upd.DetectedAt = now
			changes = append(changes, model.DiscrepancyChange{Op: model.ChangeUpdate, Discrepancy: upd})
		}
	}
	return changes
}
