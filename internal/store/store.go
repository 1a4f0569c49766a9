// Package store persists leads and async enrichment jobs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-leads/internal/config"
	"github.com/sells-group/venue-leads/internal/model"
)

// ErrNotFound is returned when a lead or job does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for enrichment.
type Store interface {
	// Leads
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadsByIDs(ctx context.Context, ids []string) ([]model.Lead, error)
	UpdateLead(ctx context.Context, id string, upd model.LeadUpdate) error
	UpsertLeads(ctx context.Context, leads []model.Lead) (int64, error)

	// Jobs
	CreateJob(ctx context.Context, leadIDs []string, overwrite bool) (*model.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error
	CompleteJob(ctx context.Context, id string, result *model.BatchResult, jobErr string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	MarkJobPolled(ctx context.Context, id string, at time.Time) error
	// DeleteExpiredJobs removes terminal jobs that were polled at least once
	// and finished before cutoff.
	DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// jobStatus picks the terminal status of a finished job.
func jobStatus(jobErr string) model.JobStatus {
	if jobErr != "" {
		return model.JobStatusFailed
	}
	return model.JobStatusComplete
}
