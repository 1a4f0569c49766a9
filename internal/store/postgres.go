package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-leads/internal/db"
	"github.com/sells-group/venue-leads/internal/model"
	"github.com/sells-group/venue-leads/internal/normalize"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

const leadColumns = `id, name, website_url, phone, email, address, description, status,
	enrichment_data, lead_score, lead_score_label, contact_name, contact_email, contact_phone,
	created_at, updated_at`

const jobColumns = `id, lead_ids, overwrite, status, result, error, created_at, updated_at, polled_at`

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_lead":   `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`,
	"get_job":    `SELECT ` + jobColumns + ` FROM enrichment_jobs WHERE id = $1`,
	"update_job": `UPDATE enrichment_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	website_url      TEXT,
	phone            TEXT,
	email            TEXT,
	address          TEXT,
	description      TEXT,
	status           TEXT NOT NULL DEFAULT 'new',
	enrichment_data  JSONB,
	lead_score       INTEGER,
	lead_score_label TEXT,
	contact_name     TEXT,
	contact_email    TEXT,
	contact_phone    TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(lead_score DESC);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id         TEXT PRIMARY KEY,
	lead_ids   JSONB NOT NULL,
	overwrite  BOOLEAN NOT NULL DEFAULT false,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	polled_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_status ON enrichment_jobs(status);
`

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

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanLead(s.pool.QueryRow(ctx, preparedStatements["get_lead"], id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) GetLeadsByIDs(ctx context.Context, ids []string) ([]model.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func (s *PostgresStore) UpdateLead(ctx context.Context, id string, upd model.LeadUpdate) error {
	data, err := json.Marshal(upd.EnrichmentData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment data")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET enrichment_data = $1, status = $2, lead_score = $3, lead_score_label = $4,
			contact_name = COALESCE($5, contact_name),
			contact_email = COALESCE($6, contact_email),
			contact_phone = COALESCE($7, contact_phone),
			updated_at = $8
		WHERE id = $9`,
		data, string(upd.Status), upd.LeadScore, string(upd.LeadScoreLabel),
		upd.ContactName, upd.ContactEmail, upd.ContactPhone, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lead %s", id)
	}
	return nil
}

var leadUpsert = db.UpsertConfig{
	Table: "leads",
	Columns: []string{"id", "name", "website_url", "phone", "email", "address", "description",
		"status", "lead_score", "lead_score_label", "created_at", "updated_at"},
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"name", "website_url", "phone", "email", "address", "description", "updated_at"},
}

// UpsertLeads bulk-loads leads. Existing leads keep their enrichment data,
// status and score; only their own fields are refreshed.
func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	rows := make([][]any, 0, len(leads))
	for _, l := range prepareLeads(leads) {
		rows = append(rows, []any{
			l.ID, l.Name, l.WebsiteURL, l.Phone, l.Email, l.Address, l.Description,
			string(l.Status), l.LeadScore, string(l.LeadScoreLabel), l.CreatedAt, l.UpdatedAt,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, leadUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert leads")
}

func (s *PostgresStore) CreateJob(ctx context.Context, leadIDs []string, overwrite bool) (*model.Job, error) {
	job := newJob(leadIDs, overwrite)
	ids, err := json.Marshal(job.LeadIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal lead ids")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_jobs (id, lead_ids, overwrite, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, ids, job.Overwrite, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return job, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["update_job"], string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result *model.BatchResult, jobErr string) error {
	var resultJSON []byte
	if result != nil {
		var err error
		if resultJSON, err = json.Marshal(result); err != nil {
			return eris.Wrap(err, "postgres: marshal job result")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET status = $1, result = $2, error = NULLIF($3, ''), updated_at = $4 WHERE id = $5`,
		string(jobStatus(jobErr)), resultJSON, jobErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var (
		j          model.Job
		idsJSON    []byte
		resultJSON []byte
		jobErr     *string
	)
	err := s.pool.QueryRow(ctx, preparedStatements["get_job"], id).
		Scan(&j.ID, &idsJSON, &j.Overwrite, &j.Status, &resultJSON, &jobErr, &j.CreatedAt, &j.UpdatedAt, &j.PolledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	if err := decodeJob(&j, idsJSON, resultJSON, jobErr); err != nil {
		return nil, eris.Wrap(err, "postgres")
	}
	return &j, nil
}

func (s *PostgresStore) MarkJobPolled(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET polled_at = COALESCE(polled_at, $1) WHERE id = $2`,
		at.UTC(), id,
	)
	return eris.Wrapf(err, "postgres: mark job polled %s", id)
}

func (s *PostgresStore) DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM enrichment_jobs WHERE status IN ($1, $2) AND polled_at IS NOT NULL AND updated_at < $3`,
		string(model.JobStatusComplete), string(model.JobStatusFailed), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired jobs")
	}
	return int(tag.RowsAffected()), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(row scanner) (*model.Lead, error) {
	var l model.Lead
	var website, phone, email, address, desc *string
	var label, contactName, contactEmail, contactPhone *string
	var data []byte
	err := row.Scan(&l.ID, &l.Name, &website, &phone, &email, &address, &desc, &l.Status,
		&data, &l.LeadScore, &label, &contactName, &contactEmail, &contactPhone, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.WebsiteURL = model.Deref(website)
	l.Phone = model.Deref(phone)
	l.Email = model.Deref(email)
	l.Address = model.Deref(address)
	l.Description = model.Deref(desc)
	l.LeadScoreLabel = model.Potential(model.Deref(label))
	l.ContactName = model.Deref(contactName)
	l.ContactEmail = model.Deref(contactEmail)
	l.ContactPhone = model.Deref(contactPhone)
	decodeRecord(&l, data)
	return &l, nil
}

// prepareLeads assigns ids, timestamps and the default status.
func prepareLeads(leads []model.Lead) []model.Lead {
	now := time.Now().UTC()
	out := make([]model.Lead, len(leads))
	for i, l := range leads {
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		if l.Status == "" {
			l.Status = model.LeadStatusSaved
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		l.UpdatedAt = now
		out[i] = l
	}
	return out
}

func newJob(leadIDs []string, overwrite bool) *model.Job {
	now := time.Now().UTC()
	ids := append([]string(nil), leadIDs...)
	if ids == nil {
		ids = []string{}
	}
	return &model.Job{
		ID:        uuid.New().String(),
		LeadIDs:   ids,
		Overwrite: overwrite,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// decodeRecord reads a stored enrichment blob through the same normalization
// as AI output. Rows written elsewhere vary in shape; an unreadable blob
// leaves the lead without prior enrichment data.
func decodeRecord(l *model.Lead, data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		zap.L().Warn("store: ignoring unreadable enrichment data",
			zap.String("lead_id", l.ID),
			zap.Error(err),
		)
		return
	}
	rec := normalize.Normalize(raw)
	l.EnrichmentData = &rec
}

func decodeJob(j *model.Job, idsJSON, resultJSON []byte, jobErr *string) error {
	if err := json.Unmarshal(idsJSON, &j.LeadIDs); err != nil {
		return eris.Wrap(err, "unmarshal lead ids")
	}
	if len(resultJSON) > 0 {
		j.Result = &model.BatchResult{}
		if err := json.Unmarshal(resultJSON, j.Result); err != nil {
			return eris.Wrap(err, "unmarshal job result")
		}
	}
	j.Error = model.Deref(jobErr)
	return nil
}
