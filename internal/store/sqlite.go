package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/query"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas apply to every pooled connection. _txlock=immediate makes
// each transaction take the write lock at BEGIN, which serializes
// read-modify-write sequences across connections and processes.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// sqliteDSN appends the connection pragmas to a file path or DSN.
func sqliteDSN(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS certificates (
	certificate_type TEXT     NOT NULL,
	certificate_id   INTEGER  NOT NULL,
	registry_number  TEXT     NOT NULL DEFAULT '',
	display_name     TEXT     NOT NULL DEFAULT '',
	fields           TEXT     NOT NULL DEFAULT '{}',
	deleted_at       DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (certificate_type, certificate_id)
);

CREATE TABLE IF NOT EXISTS ocr_extractions (
	id                  TEXT PRIMARY KEY,
	certificate_type    TEXT     NOT NULL,
	certificate_id      INTEGER  NOT NULL,
	source_path         TEXT     NOT NULL DEFAULT '',
	full_text           TEXT     NOT NULL DEFAULT '',
	document_confidence REAL     NOT NULL,
	fields              TEXT     NOT NULL DEFAULT '{}',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_ocr_extractions_cert ON ocr_extractions(certificate_type, certificate_id, created_at);

CREATE TABLE IF NOT EXISTS discrepancies (
	id               TEXT PRIMARY KEY,
	certificate_type TEXT     NOT NULL,
	certificate_id   INTEGER  NOT NULL,
	field_name       TEXT     NOT NULL,
	form_value       TEXT     NOT NULL DEFAULT '',
	pdf_value        TEXT     NOT NULL DEFAULT '',
	discrepancy_type TEXT     NOT NULL,
	severity         TEXT     NOT NULL,
	status           TEXT     NOT NULL DEFAULT 'open',
	detected_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at      DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_discrepancies_open_field
	ON discrepancies(certificate_type, certificate_id, field_name) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_discrepancies_cert ON discrepancies(certificate_type, certificate_id);

CREATE TABLE IF NOT EXISTS workflow_states (
	certificate_type   TEXT     NOT NULL,
	certificate_id     INTEGER  NOT NULL,
	current_state      TEXT     NOT NULL DEFAULT 'draft',
	data_quality_score INTEGER CHECK (data_quality_score BETWEEN 0 AND 100),
	verified_by        TEXT,
	verified_at        DATETIME,
	approved_by        TEXT,
	approved_at        DATETIME,
	rejected_by        TEXT,
	rejected_at        DATETIME,
	rejected_reason    TEXT,
	version            INTEGER  NOT NULL DEFAULT 0,
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (certificate_type, certificate_id)
);

CREATE INDEX IF NOT EXISTS idx_workflow_states_state ON workflow_states(current_state, updated_at);

CREATE TABLE IF NOT EXISTS workflow_transitions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	certificate_type TEXT     NOT NULL,
	certificate_id   INTEGER  NOT NULL,
	from_state       TEXT     NOT NULL,
	to_state         TEXT     NOT NULL,
	actor_id         TEXT     NOT NULL,
	reason           TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_workflow_transitions_cert ON workflow_transitions(certificate_type, certificate_id, created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlQuerier is implemented by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// --- Certificates ---

func (s *SQLiteStore) GetCertificate(ctx context.Context, key model.CertificateKey) (*model.Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE certificate_type = ? AND certificate_id = ? AND deleted_at IS NULL`,
		string(key.Type), key.ID,
	)
	c, err := scanCertificate(row)
	if isNoRows(err) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: certificate %s/%d", key.Type, key.ID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get certificate")
	}
	return c, nil
}

func (s *SQLiteStore) UpsertCertificate(ctx context.Context, cert model.Certificate) error {
	return sqliteUpsertCertificate(ctx, s.db, cert, time.Now().UTC())
}

func sqliteUpsertCertificate(ctx context.Context, q sqlQuerier, cert model.Certificate, now time.Time) error {
	if !cert.Key.Type.Valid() {
		return eris.Wrapf(model.ErrInvalidInput, "sqlite: unknown certificate type %q", cert.Key.Type)
	}
	fields, err := marshalFields(certFields(cert))
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert certificate")
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO certificates (`+certificateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (certificate_type, certificate_id) DO UPDATE SET
			registry_number = excluded.registry_number,
			display_name = excluded.display_name,
			fields = excluded.fields,
			deleted_at = excluded.deleted_at,
			updated_at = excluded.updated_at`,
		string(cert.Key.Type), cert.Key.ID, cert.RegistryNumber, cert.DisplayName,
		string(fields), cert.DeletedAt, orNow(cert.CreatedAt, now), now,
	)
	return eris.Wrapf(err, "sqlite: upsert certificate %s/%d", cert.Key.Type, cert.Key.ID)
}

// ImportCertificates upserts every certificate in one transaction.
func (s *SQLiteStore) ImportCertificates(ctx context.Context, certs []model.Certificate) (int64, error) {
	if len(certs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, c := range certs {
		if err := sqliteUpsertCertificate(ctx, tx, c, now); err != nil {
			return 0, eris.Wrap(err, "sqlite: import")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import: commit")
	}
	return int64(len(certs)), nil
}

func (s *SQLiteStore) ListCertificateKeys(ctx context.Context, t model.CertificateType) ([]model.CertificateKey, error) {
	q, args, err := query.CertificateKeysSQL(query.SQLite, t)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list certificate keys")
	}
	defer rows.Close() //nolint:errcheck

	var keys []model.CertificateKey
	for rows.Next() {
		var k model.CertificateKey
		if err := rows.Scan(&k.Type, &k.ID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan certificate key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: list certificate keys iterate")
}

// --- OCR extractions ---

func (s *SQLiteStore) SaveExtraction(ctx context.Context, ext *model.OCRExtraction) error {
	prepareExtraction(ext)
	fields, err := marshalFields(ext.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: save extraction")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ocr_extractions (`+extractionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ext.ID, string(ext.Key.Type), ext.Key.ID, ext.SourcePath, ext.FullText,
		ext.DocumentConfidence, string(fields), ext.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: save extraction")
}

func (s *SQLiteStore) LatestExtraction(ctx context.Context, key model.CertificateKey) (*model.OCRExtraction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM ocr_extractions
		 WHERE certificate_type = ? AND certificate_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		string(key.Type), key.ID,
	)
	e, err := scanExtraction(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest extraction")
	}
	return e, nil
}

// --- Discrepancies ---

// ReconcileDiscrepancies runs plan against the open set inside an immediate
// transaction, so concurrent reconciliations of any certificate serialize.
func (s *SQLiteStore) ReconcileDiscrepancies(ctx context.Context, key model.CertificateKey, plan func(open []model.Discrepancy) ([]model.DiscrepancyChange, error)) ([]model.Discrepancy, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: reconcile: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM certificates WHERE certificate_type = ? AND certificate_id = ?`,
		string(key.Type), key.ID,
	).Scan(&one)
	if isNoRows(err) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: reconcile: certificate %s/%d", key.Type, key.ID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: reconcile: read certificate")
	}

	open, err := sqliteOpenDiscrepancies(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	changes, err := plan(open)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: reconcile: plan")
	}
	for _, c := range changes {
		if err := sqliteApplyChange(ctx, tx, c); err != nil {
			return nil, err
		}
	}

	result, err := sqliteOpenDiscrepancies(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: reconcile: commit")
	}
	return result, nil
}

func sqliteApplyChange(ctx context.Context, q sqlQuerier, c model.DiscrepancyChange) error {
	d := c.Discrepancy
	var (
		res sql.Result
		err error
	)
	switch c.Op {
	case model.ChangeInsert:
		res, err = q.ExecContext(ctx,
			`INSERT INTO discrepancies (`+discrepancyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, string(d.Key.Type), d.Key.ID, d.FieldName, d.FormValue, d.PDFValue,
			string(d.Type), string(d.Severity), string(model.DiscrepancyOpen), d.DetectedAt, nil,
		)
	case model.ChangeUpdate:
		res, err = q.ExecContext(ctx,
			`UPDATE discrepancies SET form_value = ?, pdf_value = ?, discrepancy_type = ?, severity = ?, detected_at = ?
			 WHERE id = ? AND status = 'open'`,
			d.FormValue, d.PDFValue, string(d.Type), string(d.Severity), d.DetectedAt, d.ID,
		)
	case model.ChangeResolve:
		res, err = q.ExecContext(ctx,
			`UPDATE discrepancies SET status = 'resolved', resolved_at = ? WHERE id = ? AND status = 'open'`,
			d.ResolvedAt, d.ID,
		)
	default:
		return eris.Errorf("sqlite: reconcile: unknown change %q", c.Op)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: reconcile: %s discrepancy %s", c.Op, d.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: reconcile: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrConflict, "sqlite: reconcile: discrepancy %s is no longer open", d.ID)
	}
	return nil
}

func (s *SQLiteStore) OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error) {
	return sqliteOpenDiscrepancies(ctx, s.db, key)
}

func sqliteOpenDiscrepancies(ctx context.Context, q sqlQuerier, key model.CertificateKey) ([]model.Discrepancy, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+discrepancyColumns+` FROM discrepancies
		 WHERE certificate_type = ? AND certificate_id = ? AND status = 'open'
		 ORDER BY field_name`,
		string(key.Type), key.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open discrepancies")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Discrepancy{}
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan discrepancy")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: open discrepancies iterate")
}

// --- Workflow ---

func (s *SQLiteStore) GetWorkflowState(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowStateColumns+` FROM workflow_states w
		 WHERE w.certificate_type = ? AND w.certificate_id = ?`,
		string(key.Type), key.ID,
	)
	st, err := scanWorkflowState(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get workflow state")
	}
	return st, nil
}

// ApplyTransition writes the new state guarded by the version the caller
// read, then appends the audit row. Both happen or neither does.
func (s *SQLiteStore) ApplyTransition(ctx context.Context, w model.TransitionWrite) (*model.AppliedTransition, error) {
	next := w.Next
	key := next.Key

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: apply transition: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var row *sql.Row
	if w.Exists {
		args := append([]any{string(next.CurrentState)}, stampArgs(next)...)
		args = append(args, next.UpdatedAt, string(key.Type), key.ID, w.ExpectedVersion)
		row = tx.QueryRowContext(ctx,
			`UPDATE workflow_states SET
				current_state = ?,
				verified_by = ?, verified_at = ?,
				approved_by = ?, approved_at = ?,
				rejected_by = ?, rejected_at = ?, rejected_reason = ?,
				updated_at = ?,
				version = version + 1
			 WHERE certificate_type = ? AND certificate_id = ? AND version = ?
			 RETURNING data_quality_score, version`,
			args...,
		)
	} else {
		args := append([]any{string(key.Type), key.ID, string(next.CurrentState)}, stampArgs(next)...)
		args = append(args, next.UpdatedAt)
		row = tx.QueryRowContext(ctx,
			`INSERT INTO workflow_states (
				certificate_type, certificate_id, current_state,
				verified_by, verified_at, approved_by, approved_at,
				rejected_by, rejected_at, rejected_reason,
				updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT (certificate_type, certificate_id) DO UPDATE SET
				current_state = excluded.current_state,
				verified_by = excluded.verified_by, verified_at = excluded.verified_at,
				approved_by = excluded.approved_by, approved_at = excluded.approved_at,
				rejected_by = excluded.rejected_by, rejected_at = excluded.rejected_at,
				rejected_reason = excluded.rejected_reason,
				updated_at = excluded.updated_at,
				version = 1
			 WHERE workflow_states.version = 0 AND workflow_states.current_state = 'draft'
			 RETURNING data_quality_score, version`,
			args...,
		)
	}
	if err := row.Scan(&next.DataQualityScore, &next.Version); err != nil {
		if isNoRows(err) {
			return nil, eris.Wrapf(model.ErrConflict, "sqlite: workflow %s/%d changed since version %d", key.Type, key.ID, w.ExpectedVersion)
		}
		return nil, eris.Wrap(err, "sqlite: apply transition: write state")
	}

	rec := w.Record
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO workflow_transitions (certificate_type, certificate_id, from_state, to_state, actor_id, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		string(key.Type), key.ID, string(rec.FromState), string(rec.ToState), rec.ActorID, nullString(rec.Reason), rec.CreatedAt,
	).Scan(&rec.ID); err != nil {
		return nil, eris.Wrap(err, "sqlite: apply transition: append record")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: apply transition: commit")
	}
	return &model.AppliedTransition{State: next, Record: rec}, nil
}

// SaveQualityScore upserts the score without touching version or
// updated_at.
func (s *SQLiteStore) SaveQualityScore(ctx context.Context, key model.CertificateKey, score int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_states (certificate_type, certificate_id, current_state, data_quality_score, version, updated_at)
		 VALUES (?, ?, 'draft', ?, 0, ?)
		 ON CONFLICT (certificate_type, certificate_id) DO UPDATE SET data_quality_score = excluded.data_quality_score`,
		string(key.Type), key.ID, score, at,
	)
	return eris.Wrapf(err, "sqlite: save quality score %s/%d", key.Type, key.ID)
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, key model.CertificateKey) ([]model.TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transitionColumns+` FROM workflow_transitions
		 WHERE certificate_type = ? AND certificate_id = ?
		 ORDER BY created_at, id`,
		string(key.Type), key.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transitions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TransitionRecord
	for rows.Next() {
		r, err := scanTransition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transition")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list transitions iterate")
}

func (s *SQLiteStore) CountWorkflowByState(ctx context.Context) (map[model.State]int, error) {
	q, args, err := query.CountByStateSQL(query.SQLite)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count workflow by state")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.State]int)
	for rows.Next() {
		var st model.State
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state count")
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: count workflow iterate")
	}
	return zeroFilledCounts(counts), nil
}

func (s *SQLiteStore) ListWorkflow(ctx context.Context, f model.WorkflowFilter, pageSize int) ([]model.WorkflowRecord, error) {
	q, args, err := query.ListWorkflowSQL(query.SQLite, f, pageSize)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list workflow")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.WorkflowRecord{}
	for rows.Next() {
		rec, err := scanWorkflowRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan workflow record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list workflow iterate")
}

func (s *SQLiteStore) QualityStats(ctx context.Context, state model.State) (*model.QualityStats, error) {
	q, args, err := query.QualityStatsSQL(query.SQLite, state)
	if err != nil {
		return nil, err
	}
	var avg sql.NullFloat64
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&avg, &n); err != nil {
		return nil, eris.Wrap(err, "sqlite: quality stats")
	}
	return &model.QualityStats{State: state, Average: avg.Float64, Scored: n}, nil
}
