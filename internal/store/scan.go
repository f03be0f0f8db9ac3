package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/query"
)

// Row scanners shared by the Postgres and SQLite stores. Both pgx rows and
// database/sql rows satisfy scannable.

type scannable interface {
	Scan(dest ...any) error
}

const certificateColumns = `certificate_type, certificate_id, registry_number, display_name, fields, deleted_at, created_at, updated_at`

const extractionColumns = `id, certificate_type, certificate_id, source_path, full_text, document_confidence, fields, created_at`

const discrepancyColumns = `id, certificate_type, certificate_id, field_name, form_value, pdf_value, discrepancy_type, severity, status, detected_at, resolved_at`

const transitionColumns = `id, certificate_type, certificate_id, from_state, to_state, actor_id, reason, created_at`

// workflowStateColumns are the workflow_states columns of
// query.WorkflowColumns, without the certificate join.
var workflowStateColumns = strings.Join(query.WorkflowColumns[:13], ", ")

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

func scanCertificate(row scannable) (*model.Certificate, error) {
	var c model.Certificate
	var fieldsJSON []byte
	if err := row.Scan(
		&c.Key.Type, &c.Key.ID, &c.RegistryNumber, &c.DisplayName,
		&fieldsJSON, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &c.Fields); err != nil {
			return nil, eris.Wrap(err, "unmarshal certificate fields")
		}
	}
	if c.Fields == nil {
		c.Fields = map[string]string{}
	}
	return &c, nil
}

func scanExtraction(row scannable) (*model.OCRExtraction, error) {
	var e model.OCRExtraction
	var fieldsJSON []byte
	if err := row.Scan(
		&e.ID, &e.Key.Type, &e.Key.ID, &e.SourcePath, &e.FullText,
		&e.DocumentConfidence, &fieldsJSON, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction fields")
		}
	}
	if e.Fields == nil {
		e.Fields = map[string]model.FieldExtraction{}
	}
	return &e, nil
}

func scanDiscrepancy(row scannable) (*model.Discrepancy, error) {
	var d model.Discrepancy
	if err := row.Scan(
		&d.ID, &d.Key.Type, &d.Key.ID, &d.FieldName, &d.FormValue, &d.PDFValue,
		&d.Type, &d.Severity, &d.Status, &d.DetectedAt, &d.ResolvedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanTransition(row scannable) (*model.TransitionRecord, error) {
	var r model.TransitionRecord
	var reason *string
	if err := row.Scan(
		&r.ID, &r.Key.Type, &r.Key.ID, &r.FromState, &r.ToState, &r.ActorID, &reason, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if reason != nil {
		r.Reason = *reason
	}
	return &r, nil
}

// workflowDest collects the nullable workflow_states columns before they are
// folded into a model.WorkflowState.
type workflowDest struct {
	state                  model.WorkflowState
	verifiedBy, approvedBy *string
	rejectedBy, reason     *string
	verifiedAt, approvedAt *time.Time
	rejectedAt             *time.Time
}

func (w *workflowDest) targets() []any {
	return []any{
		&w.state.Key.Type, &w.state.Key.ID, &w.state.CurrentState, &w.state.DataQualityScore,
		&w.verifiedBy, &w.verifiedAt,
		&w.approvedBy, &w.approvedAt,
		&w.rejectedBy, &w.rejectedAt, &w.reason,
		&w.state.Version, &w.state.UpdatedAt,
	}
}

func (w *workflowDest) build() model.WorkflowState {
	st := w.state
	st.Verified = stamp(w.verifiedBy, w.verifiedAt)
	st.Approved = stamp(w.approvedBy, w.approvedAt)
	st.Rejected = stamp(w.rejectedBy, w.rejectedAt)
	if w.reason != nil {
		st.RejectedReason = *w.reason
	}
	return st
}

func stamp(by *string, at *time.Time) *model.ActorStamp {
	if by == nil || at == nil {
		return nil
	}
	return &model.ActorStamp{By: *by, At: *at}
}

func scanWorkflowState(row scannable) (*model.WorkflowState, error) {
	var w workflowDest
	if err := row.Scan(w.targets()...); err != nil {
		return nil, err
	}
	st := w.build()
	return &st, nil
}

func scanWorkflowRecord(row scannable) (*model.WorkflowRecord, error) {
	var w workflowDest
	var certID *int64
	var registryNumber, displayName *string
	var deleted bool

	dest := append(w.targets(), &certID, &registryNumber, &displayName, &deleted)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec := &model.WorkflowRecord{WorkflowState: w.build()}
	if certID != nil {
		rec.Certificate = &model.CertificateSummary{Deleted: deleted}
		if registryNumber != nil {
			rec.Certificate.RegistryNumber = *registryNumber
		}
		if displayName != nil {
			rec.Certificate.DisplayName = *displayName
		}
	}
	return rec, nil
}

// stampArgs flattens the stamp columns of st in workflowStateColumns order.
func stampArgs(st model.WorkflowState) []any {
	by := func(s *model.ActorStamp) any {
		if s == nil {
			return nil
		}
		return s.By
	}
	at := func(s *model.ActorStamp) any {
		if s == nil {
			return nil
		}
		return s.At
	}
	return []any{
		by(st.Verified), at(st.Verified),
		by(st.Approved), at(st.Approved),
		by(st.Rejected), at(st.Rejected), nullString(st.RejectedReason),
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalFields(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "marshal fields")
	}
	return b, nil
}

// zeroFilledCounts returns counts with every workflow state present.
func zeroFilledCounts(counts map[model.State]int) map[model.State]int {
	out := make(map[model.State]int, len(model.States))
	for _, s := range model.States {
		out[s] = counts[s]
	}
	return out
}
