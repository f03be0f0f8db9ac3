package query

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
)

// DefaultPageSize bounds every workflow listing.
const DefaultPageSize = 100

// Dialect selects the placeholder style of generated SQL.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) format() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// WorkflowColumns is the column list every workflow record query selects, in
// scan order. Certificate columns are NULL when the join finds nothing;
// soft-deleted certificates still join and report deleted.
var WorkflowColumns = []string{
	"w.certificate_type",
	"w.certificate_id",
	"w.current_state",
	"w.data_quality_score",
	"w.verified_by",
	"w.verified_at",
	"w.approved_by",
	"w.approved_at",
	"w.rejected_by",
	"w.rejected_at",
	"w.rejected_reason",
	"w.version",
	"w.updated_at",
	"c.certificate_id",
	"c.registry_number",
	"c.display_name",
	"c.deleted_at IS NOT NULL",
}

const certificateJoin = "certificates c ON c.certificate_type = w.certificate_type" +
	" AND c.certificate_id = w.certificate_id"

// ClampLimit applies the default page size and cap.
func ClampLimit(limit, pageSize int) int {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	if limit <= 0 || limit > pageSize {
		return pageSize
	}
	return limit
}

// ListWorkflowSQL translates f into a parameterized listing query. Only the
// enumerated filter fields become predicates; their values are always bound
// as arguments.
func ListWorkflowSQL(d Dialect, f model.WorkflowFilter, pageSize int) (string, []any, error) {
	if f.State != "" && !f.State.Valid() {
		return "", nil, eris.Wrapf(model.ErrInvalidInput, "query: unknown state filter %q", f.State)
	}
	if f.Type != "" && !f.Type.Valid() {
		return "", nil, eris.Wrapf(model.ErrInvalidInput, "query: unknown certificate type filter %q", f.Type)
	}

	b := sq.Select(WorkflowColumns...).
		From("workflow_states w").
		LeftJoin(certificateJoin).
		PlaceholderFormat(d.format())

	if f.State != "" {
		b = b.Where(sq.Eq{"w.current_state": string(f.State)})
	}
	if f.Type != "" {
		b = b.Where(sq.Eq{"w.certificate_type": string(f.Type)})
	}

	if f.QueueOrder {
		b = b.OrderBy(
			"w.data_quality_score IS NULL",
			"w.data_quality_score ASC",
			"w.updated_at ASC",
		)
	} else {
		b = b.OrderBy("w.updated_at DESC", "w.certificate_type", "w.certificate_id")
	}

	sql, args, err := b.Limit(uint64(ClampLimit(f.Limit, pageSize))).ToSql()
	if err != nil {
		return "", nil, eris.Wrap(err, "query: build workflow listing")
	}
	return sql, args, nil
}

// CountByStateSQL groups workflow rows by state.
func CountByStateSQL(d Dialect) (string, []any, error) {
	sql, args, err := sq.Select("current_state", "COUNT(*)").
		From("workflow_states").
		GroupBy("current_state").
		PlaceholderFormat(d.format()).
		ToSql()
	if err != nil {
		return "", nil, eris.Wrap(err, "query: build state counts")
	}
	return sql, args, nil
}

// QualityStatsSQL averages the stored quality score of certificates in
// state. Rows without a score are ignored.
func QualityStatsSQL(d Dialect, state model.State) (string, []any, error) {
	sql, args, err := sq.Select("AVG(data_quality_score)", "COUNT(data_quality_score)").
		From("workflow_states").
		Where(sq.Eq{"current_state": string(state)}).
		PlaceholderFormat(d.format()).
		ToSql()
	if err != nil {
		return "", nil, eris.Wrap(err, "query: build quality stats")
	}
	return sql, args, nil
}

// CertificateKeysSQL lists live certificates, optionally of one type, in key
// order.
func CertificateKeysSQL(d Dialect, t model.CertificateType) (string, []any, error) {
	if t != "" && !t.Valid() {
		return "", nil, eris.Wrapf(model.ErrInvalidInput, "query: unknown certificate type filter %q", t)
	}
	b := sq.Select("certificate_type", "certificate_id").
		From("certificates").
		Where(sq.Eq{"deleted_at": nil}).
		OrderBy("certificate_type", "certificate_id").
		PlaceholderFormat(d.format())
	if t != "" {
		b = b.Where(sq.Eq{"certificate_type": string(t)})
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return "", nil, eris.Wrap(err, "query: build certificate keys")
	}
	return sql, args, nil
}
