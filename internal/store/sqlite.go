package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/venue-leads/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	website_url      TEXT,
	phone            TEXT,
	email            TEXT,
	address          TEXT,
	description      TEXT,
	status           TEXT NOT NULL DEFAULT 'new',
	enrichment_data  TEXT,
	lead_score       INTEGER,
	lead_score_label TEXT,
	contact_name     TEXT,
	contact_email    TEXT,
	contact_phone    TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id         TEXT PRIMARY KEY,
	lead_ids   TEXT NOT NULL,
	overwrite  INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	polled_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_status ON enrichment_jobs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanSQLiteLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) GetLeadsByIDs(ctx context.Context, ids []string) ([]model.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get leads")
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, id string, upd model.LeadUpdate) error {
	data, err := json.Marshal(upd.EnrichmentData)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment data")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET enrichment_data = ?, status = ?, lead_score = ?, lead_score_label = ?,
			contact_name = COALESCE(?, contact_name),
			contact_email = COALESCE(?, contact_email),
			contact_phone = COALESCE(?, contact_phone),
			updated_at = ?
		WHERE id = ?`,
		string(data), string(upd.Status), upd.LeadScore, string(upd.LeadScoreLabel),
		upd.ContactName, upd.ContactEmail, upd.ContactPhone, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

// UpsertLeads inserts leads in one transaction. Existing leads keep their
// enrichment data, status and score.
func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO leads
		(id, name, website_url, phone, email, address, description, status, lead_score, lead_score_label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, website_url = excluded.website_url, phone = excluded.phone,
			email = excluded.email, address = excluded.address, description = excluded.description,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, l := range prepareLeads(leads) {
		var label *string
		if l.LeadScoreLabel != "" {
			label = model.String(string(l.LeadScoreLabel))
		}
		res, err := stmt.ExecContext(ctx, l.ID, l.Name, l.WebsiteURL, l.Phone, l.Email, l.Address,
			l.Description, string(l.Status), l.LeadScore, label, l.CreatedAt, l.UpdatedAt)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert lead %s", l.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, leadIDs []string, overwrite bool) (*model.Job, error) {
	job := newJob(leadIDs, overwrite)
	ids, err := json.Marshal(job.LeadIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal lead ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_jobs (id, lead_ids, overwrite, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(ids), job.Overwrite, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, result *model.BatchResult, jobErr string) error {
	var resultJSON *string
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal job result")
		}
		resultJSON = model.String(string(b))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET status = ?, result = ?, error = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		string(jobStatus(jobErr)), resultJSON, jobErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var (
		j          model.Job
		idsJSON    string
		resultJSON sql.NullString
		jobErr     sql.NullString
		polledAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = ?`, id).
		Scan(&j.ID, &idsJSON, &j.Overwrite, &j.Status, &resultJSON, &jobErr, &j.CreatedAt, &j.UpdatedAt, &polledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}

	var errPtr *string
	if jobErr.Valid {
		errPtr = &jobErr.String
	}
	if err := decodeJob(&j, []byte(idsJSON), []byte(resultJSON.String), errPtr); err != nil {
		return nil, eris.Wrap(err, "sqlite")
	}
	if polledAt.Valid {
		t := polledAt.Time
		j.PolledAt = &t
	}
	return &j, nil
}

func (s *SQLiteStore) MarkJobPolled(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET polled_at = COALESCE(polled_at, ?) WHERE id = ?`,
		at.UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: mark job polled %s", id)
}

func (s *SQLiteStore) DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM enrichment_jobs WHERE status IN (?, ?) AND polled_at IS NOT NULL AND updated_at < ?`,
		string(model.JobStatusComplete), string(model.JobStatusFailed), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func scanSQLiteLead(row scanner) (*model.Lead, error) {
	var l model.Lead
	var website, phone, email, address, desc sql.NullString
	var label, contactName, contactEmail, contactPhone, data sql.NullString
	var score sql.NullInt64
	err := row.Scan(&l.ID, &l.Name, &website, &phone, &email, &address, &desc, &l.Status,
		&data, &score, &label, &contactName, &contactEmail, &contactPhone, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.WebsiteURL = website.String
	l.Phone = phone.String
	l.Email = email.String
	l.Address = address.String
	l.Description = desc.String
	l.LeadScoreLabel = model.Potential(label.String)
	l.ContactName = contactName.String
	l.ContactEmail = contactEmail.String
	l.ContactPhone = contactPhone.String
	if score.Valid {
		l.LeadScore = model.Int(int(score.Int64))
	}
	decodeRecord(&l, []byte(data.String))
	return &l, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", kind, id)
	}
	return nil
}
