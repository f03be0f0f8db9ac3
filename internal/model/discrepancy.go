package model

import "time"

// DiscrepancyType classifies how a form value disagrees with the PDF.
type DiscrepancyType string

const (
	DiscrepancyMissingInForm DiscrepancyType = "missing_in_form"
	DiscrepancyMissingInPDF  DiscrepancyType = "missing_in_pdf"
	DiscrepancyValueMismatch DiscrepancyType = "value_mismatch"
	DiscrepancyLowConfidence DiscrepancyType = "low_confidence"
)

// Severity ranks a discrepancy for review prioritization.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DiscrepancyStatus is the lifecycle of a discrepancy row.
type DiscrepancyStatus string

const (
	DiscrepancyOpen      DiscrepancyStatus = "open"
	DiscrepancyResolved  DiscrepancyStatus = "resolved"
	DiscrepancyDismissed DiscrepancyStatus = "dismissed"
)

// Discrepancy is a field-level mismatch between form data and OCR output.
// At most one open discrepancy exists per certificate field.
type Discrepancy struct {
	ID         string            `json:"id"`
	Key        CertificateKey    `json:"key"`
	FieldName  string            `json:"field_name"`
	FormValue  string            `json:"form_value"`
	PDFValue   string            `json:"pdf_value"`
	Type       DiscrepancyType   `json:"discrepancy_type"`
	Severity   Severity          `json:"severity"`
	Status     DiscrepancyStatus `json:"status"`
	DetectedAt time.Time         `json:"detected_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// SameFinding reports whether d and o describe the same verdict on the same
// values, ignoring identity and timestamps.
func (d Discrepancy) SameFinding(o Discrepancy) bool {
	return d.FieldName == o.FieldName &&
		d.FormValue == o.FormValue &&
		d.PDFValue == o.PDFValue &&
		d.Type == o.Type &&
		d.Severity == o.Severity
}

// ChangeOp is a write the reconciler asks the store to apply.
type ChangeOp string

const (
	ChangeInsert  ChangeOp = "insert"
	ChangeUpdate  ChangeOp = "update"
	ChangeResolve ChangeOp = "resolve"
)

// DiscrepancyChange pairs an operation with the row it targets. For updates
// and resolves, Discrepancy.ID names the existing open row.
type DiscrepancyChange struct {
	Op          ChangeOp
	Discrepancy Discrepancy
}
