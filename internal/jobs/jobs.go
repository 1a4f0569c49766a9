// Package jobs runs batch enrichment asynchronously and tracks job status
// in the store until the result has been collected.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-leads/internal/batch"
	"github.com/sells-group/venue-leads/internal/model"
)

// DefaultRetention keeps polled terminal jobs for a day.
const DefaultRetention = 24 * time.Hour

// Store is the job persistence the runner needs.
type Store interface {
	CreateJob(ctx context.Context, leadIDs []string, overwrite bool) (*model.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error
	CompleteJob(ctx context.Context, id string, result *model.BatchResult, jobErr string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	MarkJobPolled(ctx context.Context, id string, at time.Time) error
	DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int, error)
}

// Batcher runs one batch.
type Batcher interface {
	EnrichMany(ctx context.Context, req batch.Request) (*model.BatchResult, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock injects the clock used for polling and retention.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner submits and tracks async jobs.
type Runner struct {
	store     Store
	batcher   Batcher
	retention time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// New creates a Runner. A non-positive retention uses DefaultRetention.
func New(st Store, b Batcher, retention time.Duration, opts ...Option) *Runner {
	if retention <= 0 {
		retention = DefaultRetention
	}
	r := &Runner{store: st, batcher: b, retention: retention, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates the request, records a queued job and starts the batch
// in the background. The batch outlives ctx cancellation.
func (r *Runner) Submit(ctx context.Context, leadIDs []string, overwrite bool) (*model.Job, error) {
	ids := make([]string, 0, len(leadIDs))
	for _, id := range leadIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, batch.ErrEmptyBatch
	}

	job, err := r.store.CreateJob(ctx, ids, overwrite)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: create")
	}
	zap.L().Info("jobs: queued", zap.String("job_id", job.ID), zap.Int("leads", len(ids)))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(context.WithoutCancel(ctx), job)
	}()
	return job, nil
}

func (r *Runner) run(ctx context.Context, job *model.Job) {
	log := zap.L().With(zap.String("job_id", job.ID))
	start := r.now()

	var (
		result *model.BatchResult
		jobErr string
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("jobs: batch panicked", zap.Any("panic", p))
				result, jobErr = nil, fmt.Sprintf("batch panicked: %v", p)
			}
		}()

		res, err := r.batcher.EnrichMany(ctx, batch.Request{
			LeadIDs:   job.LeadIDs,
			Overwrite: job.Overwrite,
			OnStage: func(s batch.Stage) {
				if err := r.store.UpdateJobStatus(ctx, job.ID, stageStatus(s)); err != nil {
					log.Warn("jobs: update status failed", zap.String("stage", string(s)), zap.Error(err))
				}
			},
		})
		if err != nil {
			jobErr = err.Error()
			return
		}
		result = res
	}()

	if err := r.store.CompleteJob(ctx, job.ID, result, jobErr); err != nil {
		log.Error("jobs: complete failed", zap.Error(err))
		return
	}
	log.Info("jobs: finished",
		zap.Bool("failed", jobErr != ""),
		zap.Duration("elapsed", r.now().Sub(start)),
	)
}

// Get returns a job. Reading a terminal job marks it as polled, which
// starts its retention clock.
func (r *Runner) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() && job.PolledAt == nil {
		at := r.now().UTC()
		if err := r.store.MarkJobPolled(ctx, id, at); err != nil {
			zap.L().Warn("jobs: mark polled failed", zap.String("job_id", id), zap.Error(err))
		} else {
			job.PolledAt = &at
		}
	}
	return job, nil
}

// Purge deletes polled terminal jobs older than the retention period.
func (r *Runner) Purge(ctx context.Context) (int, error) {
	n, err := r.store.DeleteExpiredJobs(ctx, r.now().Add(-r.retention))
	if err != nil {
		return 0, eris.Wrap(err, "jobs: purge")
	}
	if n > 0 {
		zap.L().Info("jobs: purged expired jobs", zap.Int("count", n))
	}
	return n, nil
}

// PurgeEvery runs Purge on each tick until ctx is done.
func (r *Runner) PurgeEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Purge(ctx); err != nil {
				zap.L().Warn("jobs: scheduled purge failed", zap.Error(err))
			}
		}
	}
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func stageStatus(s batch.Stage) model.JobStatus {
	if s == batch.StagePersisting {
		return model.JobStatusPersisting
	}
	return model.JobStatusEnriching
}
