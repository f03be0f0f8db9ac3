package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/db"
	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/query"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// pgQuerier is implemented by both db.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close closes the pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS certificates (
	certificate_type TEXT        NOT NULL,
	certificate_id   BIGINT      NOT NULL,
	registry_number  TEXT        NOT NULL DEFAULT '',
	display_name     TEXT        NOT NULL DEFAULT '',
	fields           JSONB       NOT NULL DEFAULT '{}'::jsonb,
	deleted_at       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (certificate_type, certificate_id),
	CHECK (certificate_type IN ('birth', 'marriage', 'death', 'marriage_license'))
);

CREATE TABLE IF NOT EXISTS ocr_extractions (
	id                  TEXT PRIMARY KEY,
	certificate_type    TEXT             NOT NULL,
	certificate_id      BIGINT           NOT NULL,
	source_path         TEXT             NOT NULL DEFAULT '',
	full_text           TEXT             NOT NULL DEFAULT '',
	document_confidence DOUBLE PRECISION NOT NULL,
	fields              JSONB            NOT NULL DEFAULT '{}'::jsonb,
	created_at          TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ocr_extractions_cert ON ocr_extractions(certificate_type, certificate_id, created_at DESC);

CREATE TABLE IF NOT EXISTS discrepancies (
	id               TEXT PRIMARY KEY,
	certificate_type TEXT        NOT NULL,
	certificate_id   BIGINT      NOT NULL,
	field_name       TEXT        NOT NULL,
	form_value       TEXT        NOT NULL DEFAULT '',
	pdf_value        TEXT        NOT NULL DEFAULT '',
	discrepancy_type TEXT        NOT NULL,
	severity         TEXT        NOT NULL,
	status           TEXT        NOT NULL DEFAULT 'open',
	detected_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at      TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_discrepancies_open_field
	ON discrepancies(certificate_type, certificate_id, field_name) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_discrepancies_cert ON discrepancies(certificate_type, certificate_id);

CREATE TABLE IF NOT EXISTS workflow_states (
	certificate_type   TEXT        NOT NULL,
	certificate_id     BIGINT      NOT NULL,
	current_state      TEXT        NOT NULL DEFAULT 'draft',
	data_quality_score INTEGER CHECK (data_quality_score BETWEEN 0 AND 100),
	verified_by        TEXT,
	verified_at        TIMESTAMPTZ,
	approved_by        TEXT,
	approved_at        TIMESTAMPTZ,
	rejected_by        TEXT,
	rejected_at        TIMESTAMPTZ,
	rejected_reason    TEXT,
	version            BIGINT      NOT NULL DEFAULT 0,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (certificate_type, certificate_id)
);

CREATE INDEX IF NOT EXISTS idx_workflow_states_state ON workflow_states(current_state, updated_at DESC);

CREATE TABLE IF NOT EXISTS workflow_transitions (
	id               BIGSERIAL PRIMARY KEY,
	certificate_type TEXT        NOT NULL,
	certificate_id   BIGINT      NOT NULL,
	from_state       TEXT        NOT NULL,
	to_state         TEXT        NOT NULL,
	actor_id         TEXT        NOT NULL,
	reason           TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_workflow_transitions_cert ON workflow_transitions(certificate_type, certificate_id, created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Certificates ---

func (s *PostgresStore) GetCertificate(ctx context.Context, key model.CertificateKey) (*model.Certificate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE certificate_type = $1 AND certificate_id = $2 AND deleted_at IS NULL`,
		string(key.Type), key.ID,
	)
	c, err := scanCertificate(row)
	if isNoRows(err) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: certificate %s/%d", key.Type, key.ID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get certificate")
	}
	return c, nil
}

func (s *PostgresStore) UpsertCertificate(ctx context.Context, cert model.Certificate) error {
	fields, err := marshalFields(certFields(cert))
	if err != nil {
		return eris.Wrap(err, "postgres: upsert certificate")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO certificates (`+certificateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (certificate_type, certificate_id) DO UPDATE SET
			registry_number = EXCLUDED.registry_number,
			display_name = EXCLUDED.display_name,
			fields = EXCLUDED.fields,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at`,
		string(cert.Key.Type), cert.Key.ID, cert.RegistryNumber, cert.DisplayName,
		fields, cert.DeletedAt, orNow(cert.CreatedAt, now), now,
	)
	return eris.Wrapf(err, "postgres: upsert certificate %s/%d", cert.Key.Type, cert.Key.ID)
}

// ImportCertificates bulk-loads certificates via COPY and a merge.
func (s *PostgresStore) ImportCertificates(ctx context.Context, certs []model.Certificate) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(certs))
	for _, c := range certs {
		if !c.Key.Type.Valid() {
			return 0, eris.Wrapf(model.ErrInvalidInput, "postgres: import: unknown certificate type %q", c.Key.Type)
		}
		rows = append(rows, []any{
			string(c.Key.Type), c.Key.ID, c.RegistryNumber, c.DisplayName,
			certFields(c), c.DeletedAt, orNow(c.CreatedAt, now), now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "certificates",
		Columns:      []string{"certificate_type", "certificate_id", "registry_number", "display_name", "fields", "deleted_at", "created_at", "updated_at"},
		ConflictKeys: []string{"certificate_type", "certificate_id"},
		UpdateCols:   []string{"registry_number", "display_name", "fields", "deleted_at", "updated_at"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import certificates")
}

func (s *PostgresStore) ListCertificateKeys(ctx context.Context, t model.CertificateType) ([]model.CertificateKey, error) {
	sql, args, err := query.CertificateKeysSQL(query.Postgres, t)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list certificate keys")
	}
	defer rows.Close()

	var keys []model.CertificateKey
	for rows.Next() {
		var k model.CertificateKey
		if err := rows.Scan(&k.Type, &k.ID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan certificate key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "postgres: list certificate keys iterate")
}

// --- OCR extractions ---

func (s *PostgresStore) SaveExtraction(ctx context.Context, ext *model.OCRExtraction) error {
	prepareExtraction(ext)
	fields, err := marshalFields(ext.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: save extraction")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ocr_extractions (`+extractionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ext.ID, string(ext.Key.Type), ext.Key.ID, ext.SourcePath, ext.FullText,
		ext.DocumentConfidence, fields, ext.CreatedAt,
	)
	return eris.Wrap(err, "postgres: save extraction")
}

func (s *PostgresStore) LatestExtraction(ctx context.Context, key model.CertificateKey) (*model.OCRExtraction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+extractionColumns+` FROM ocr_extractions
		 WHERE certificate_type = $1 AND certificate_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		string(key.Type), key.ID,
	)
	e, err := scanExtraction(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest extraction")
	}
	return e, nil
}

// --- Discrepancies ---

// ReconcileDiscrepancies locks the certificate row, hands the open set to
// plan and applies the resulting changes in the same transaction.
func (s *PostgresStore) ReconcileDiscrepancies(ctx context.Context, key model.CertificateKey, plan func(open []model.Discrepancy) ([]model.DiscrepancyChange, error)) ([]model.Discrepancy, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: reconcile: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM certificates WHERE certificate_type = $1 AND certificate_id = $2 FOR UPDATE`,
		string(key.Type), key.ID,
	).Scan(&one)
	if isNoRows(err) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: reconcile: certificate %s/%d", key.Type, key.ID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: reconcile: lock certificate")
	}

	open, err := pgOpenDiscrepancies(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	changes, err := plan(open)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: reconcile: plan")
	}
	for _, c := range changes {
		if err := pgApplyChange(ctx, tx, c); err != nil {
			return nil, err
		}
	}

	result, err := pgOpenDiscrepancies(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: reconcile: commit")
	}
	return result, nil
}

func pgApplyChange(ctx context.Context, q pgQuerier, c model.DiscrepancyChange) error {
	d := c.Discrepancy
	var (
		tag pgconn.CommandTag
		err error
	)
	switch c.Op {
	case model.ChangeInsert:
		tag, err = q.Exec(ctx,
			`INSERT INTO discrepancies (`+discrepancyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			d.ID, string(d.Key.Type), d.Key.ID, d.FieldName, d.FormValue, d.PDFValue,
			string(d.Type), string(d.Severity), string(model.DiscrepancyOpen), d.DetectedAt, nil,
		)
	case model.ChangeUpdate:
		tag, err = q.Exec(ctx,
			`UPDATE discrepancies SET form_value = $2, pdf_value = $3, discrepancy_type = $4, severity = $5, detected_at = $6
			 WHERE id = $1 AND status = 'open'`,
			d.ID, d.FormValue, d.PDFValue, string(d.Type), string(d.Severity), d.DetectedAt,
		)
	case model.ChangeResolve:
		tag, err = q.Exec(ctx,
			`UPDATE discrepancies SET status = 'resolved', resolved_at = $2 WHERE id = $1 AND status = 'open'`,
			d.ID, d.ResolvedAt,
		)
	default:
		return eris.Errorf("postgres: reconcile: unknown change %q", c.Op)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: reconcile: %s discrepancy %s", c.Op, d.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrConflict, "postgres: reconcile: discrepancy %s is no longer open", d.ID)
	}
	return nil
}

func (s *PostgresStore) OpenDiscrepancies(ctx context.Context, key model.CertificateKey) ([]model.Discrepancy, error) {
	return pgOpenDiscrepancies(ctx, s.pool, key)
}

func pgOpenDiscrepancies(ctx context.Context, q pgQuerier, key model.CertificateKey) ([]model.Discrepancy, error) {
	rows, err := q.Query(ctx,
		`SELECT `+discrepancyColumns+` FROM discrepancies
		 WHERE certificate_type = $1 AND certificate_id = $2 AND status = 'open'
		 ORDER BY field_name`,
		string(key.Type), key.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open discrepancies")
	}
	defer rows.Close()

	out := []model.Discrepancy{}
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan discrepancy")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: open discrepancies iterate")
}

// --- Workflow ---

func (s *PostgresStore) GetWorkflowState(ctx context.Context, key model.CertificateKey) (*model.WorkflowState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workflowStateColumns+` FROM workflow_states w
		 WHERE w.certificate_type = $1 AND w.certificate_id = $2`,
		string(key.Type), key.ID,
	)
	st, err := scanWorkflowState(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get workflow state")
	}
	return st, nil
}

// ApplyTransition writes the new state guarded by the version the caller
// read, then appends the audit row. Both happen or neither does.
func (s *PostgresStore) ApplyTransition(ctx context.Context, w model.TransitionWrite) (*model.AppliedTransition, error) {
	next := w.Next
	key := next.Key

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: apply transition: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	args := append([]any{string(key.Type), key.ID, string(next.CurrentState)}, stampArgs(next)...)
	args = append(args, next.UpdatedAt)

	var row pgx.Row
	if w.Exists {
		row = tx.QueryRow(ctx,
			`UPDATE workflow_states SET
				current_state = $3,
				verified_by = $4, verified_at = $5,
				approved_by = $6, approved_at = $7,
				rejected_by = $8, rejected_at = $9, rejected_reason = $10,
				updated_at = $11,
				version = version + 1
			 WHERE certificate_type = $1 AND certificate_id = $2 AND version = $12
			 RETURNING data_quality_score, version`,
			append(args, w.ExpectedVersion)...,
		)
	} else {
		row = tx.QueryRow(ctx,
			`INSERT INTO workflow_states (
				certificate_type, certificate_id, current_state,
				verified_by, verified_at, approved_by, approved_at,
				rejected_by, rejected_at, rejected_reason,
				updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
			 ON CONFLICT (certificate_type, certificate_id) DO UPDATE SET
				current_state = EXCLUDED.current_state,
				verified_by = EXCLUDED.verified_by, verified_at = EXCLUDED.verified_at,
				approved_by = EXCLUDED.approved_by, approved_at = EXCLUDED.approved_at,
				rejected_by = EXCLUDED.rejected_by, rejected_at = EXCLUDED.rejected_at,
				rejected_reason = EXCLUDED.rejected_reason,
				updated_at = EXCLUDED.updated_at,
				version = 1
			 WHERE workflow_states.version = 0 AND workflow_states.current_state = 'draft'
			 RETURNING data_quality_score, version`,
			args...,
		)
	}
	if err := row.Scan(&next.DataQualityScore, &next.Version); err != nil {
		if isNoRows(err) {
			return nil, eris.Wrapf(model.ErrConflict, "postgres: workflow %s/%d changed since version %d", key.Type, key.ID, w.ExpectedVersion)
		}
		return nil, eris.Wrap(err, "postgres: apply transition: write state")
	}

	rec := w.Record
	if err := tx.QueryRow(ctx,
		`INSERT INTO workflow_transitions (certificate_type, certificate_id, from_state, to_state, actor_id, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		string(key.Type), key.ID, string(rec.FromState), string(rec.ToState), rec.ActorID, nullString(rec.Reason), rec.CreatedAt,
	).Scan(&rec.ID); err != nil {
		return nil, eris.Wrap(err, "postgres: apply transition: append record")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: apply transition: commit")
	}
	return &model.AppliedTransition{State: next, Record: rec}, nil
}

// SaveQualityScore upserts the score without touching version or
// updated_at. A lazily created draft row is claimed by the first transition.
func (s *PostgresStore) SaveQualityScore(ctx context.Context, key model.CertificateKey, score int, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_states (certificate_type, certificate_id, current_state, data_quality_score, version, updated_at)
		 VALUES ($1, $2, 'draft', $3, 0, $4)
		 ON CONFLICT (certificate_type, certificate_id) DO UPDATE SET data_quality_score = EXCLUDED.data_quality_score`,
		string(key.Type), key.ID, score, at,
	)
	return eris.Wrapf(err, "postgres: save quality score %s/%d", key.Type, key.ID)
}

func (s *PostgresStore) ListTransitions(ctx context.Context, key model.CertificateKey) ([]model.TransitionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transitionColumns+` FROM workflow_transitions
		 WHERE certificate_type = $1 AND certificate_id = $2
		 ORDER BY created_at, id`,
		string(key.Type), key.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transitions")
	}
	defer rows.Close()

	var out []model.TransitionRecord
	for rows.Next() {
		r, err := scanTransition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan transition")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list transitions iterate")
}

func (s *PostgresStore) CountWorkflowByState(ctx context.Context) (map[model.State]int, error) {
	sql, args, err := query.CountByStateSQL(query.Postgres)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count workflow by state")
	}
	defer rows.Close()

	counts := make(map[model.State]int)
	for rows.Next() {
		var st model.State
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state count")
		}
		counts[st] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: count workflow iterate")
	}
	return zeroFilledCounts(counts), nil
}

func (s *PostgresStore) ListWorkflow(ctx context.Context, f model.WorkflowFilter, pageSize int) ([]model.WorkflowRecord, error) {
	sql, args, err := query.ListWorkflowSQL(query.Postgres, f, pageSize)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workflow")
	}
	defer rows.Close()

	out := []model.WorkflowRecord{}
	for rows.Next() {
		rec, err := scanWorkflowRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan workflow record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list workflow iterate")
}

func (s *PostgresStore) QualityStats(ctx context.Context, state model.State) (*model.QualityStats, error) {
	sql, args, err := query.QualityStatsSQL(query.Postgres, state)
	if err != nil {
		return nil, err
	}
	var avg *float64
	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&avg, &n); err != nil {
		return nil, eris.Wrap(err, "postgres: quality stats")
	}
	stats := &model.QualityStats{State: state, Scored: int(n)}
	if avg != nil {
		stats.Average = *avg
	}
	return stats, nil
}

// helpers shared with the SQLite store

func certFields(c model.Certificate) map[string]string {
	if c.Fields == nil {
		return map[string]string{}
	}
	return c.Fields
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}

func prepareExtraction(ext *model.OCRExtraction) {
	if ext.ID == "" {
		ext.ID = uuid.New().String()
	}
	if ext.CreatedAt.IsZero() {
		ext.CreatedAt = time.Now().UTC()
	}
	if ext.Fields == nil {
		ext.Fields = map[string]model.FieldExtraction{}
	}
}
