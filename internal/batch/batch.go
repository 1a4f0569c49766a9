// Package batch enriches many leads concurrently and persists the results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/venue-leads/internal/config"
	"github.com/sells-group/venue-leads/internal/coordination"
	"github.com/sells-group/venue-leads/internal/merge"
	"github.com/sells-group/venue-leads/internal/metrics"
	"github.com/sells-group/venue-leads/internal/model"
	"github.com/sells-group/venue-leads/internal/pipeline"
)

// ErrEmptyBatch is returned when no lead ids were supplied.
var ErrEmptyBatch = errors.New("no lead ids provided")

// MissingWebsiteError rejects a batch in which some leads have no website.
type MissingWebsiteError struct {
	Leads []string
}

func (e *MissingWebsiteError) Error() string {
	return fmt.Sprintf("%d lead(s) missing a website URL: %s", len(e.Leads), strings.Join(e.Leads, ", "))
}

// IsInputError reports whether err was caused by the request itself.
func IsInputError(err error) bool {
	var mw *MissingWebsiteError
	return errors.Is(err, ErrEmptyBatch) || errors.As(err, &mw)
}

// Stage is a batch-level progress marker.
type Stage string

const (
	StageEnriching  Stage = "enriching"
	StagePersisting Stage = "persisting"
)

// Per-lead failure reasons.
const (
	reasonNotFound   = "lead not found"
	reasonInProgress = "enrichment already in progress"
	reasonNotSaved   = "enriched but not saved"
)

// Enricher enriches one lead.
type Enricher interface {
	EnrichOne(ctx context.Context, lead model.Lead, extracted map[string]any, opts ...merge.Option) model.EnrichmentResult
}

// LeadStore is the persistence the coordinator needs.
type LeadStore interface {
	GetLeadsByIDs(ctx context.Context, ids []string) ([]model.Lead, error)
	UpdateLead(ctx context.Context, id string, upd model.LeadUpdate) error
}

// Config bounds a batch.
type Config struct {
	MaxConcurrent        int
	Timeout              time.Duration
	MissingWebsitePolicy string
}

// ConfigFrom derives batch limits from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxConcurrent:        cfg.Batch.MaxConcurrentLeads,
		Timeout:              time.Duration(cfg.Batch.TimeoutSecs) * time.Second,
		MissingWebsitePolicy: cfg.Batch.MissingWebsitePolicy,
	}
}

// Request is one enrichMany call.
type Request struct {
	LeadIDs   []string
	Overwrite bool
	// OnStage, when set, is called as the batch enters each stage.
	OnStage func(Stage)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker guards each lead with a lease.
func WithLocker(l coordination.Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithMetrics records batch metrics.
func WithMetrics(m *metrics.EnrichmentMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator runs EnrichMany.
type Coordinator struct {
	store    LeadStore
	enricher Enricher
	cfg      Config
	locker   coordination.Locker
	metrics  *metrics.EnrichmentMetrics
}

// New creates a Coordinator.
func New(st LeadStore, e Enricher, cfg Config, opts ...Option) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.MissingWebsitePolicy == "" {
		cfg.MissingWebsitePolicy = config.PolicySkip
	}
	c := &Coordinator{
		store:    st,
		enricher: e,
		cfg:      cfg,
		locker:   coordination.NopLocker{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// slot carries one lead through the batch.
type slot struct {
	id      string
	lead    *model.Lead
	result  model.EnrichmentResult
	release func()
	saved   bool
	saveErr error
}

func (s *slot) unlock() {
	if s.release != nil {
		s.release()
	}
}

// EnrichMany enriches and persists the requested leads. Only input errors
// and a failure to load the leads are returned as errors; everything else
// is reported per lead in the BatchResult.
func (c *Coordinator) EnrichMany(ctx context.Context, req Request) (*model.BatchResult, error) {
	start := time.Now()
	ids := dedupe(req.LeadIDs)
	if len(ids) == 0 {
		return nil, ErrEmptyBatch
	}

	log := zap.L().With(zap.Int("leads", len(ids)), zap.Int("concurrency", c.cfg.MaxConcurrent))

	leads, err := c.store.GetLeadsByIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "batch: load leads")
	}
	byID := make(map[string]*model.Lead, len(leads))
	for i := range leads {
		byID[leads[i].ID] = &leads[i]
	}

	slots := make([]*slot, len(ids))
	var missing []string
	for i, id := range ids {
		s := &slot{id: id, lead: byID[id]}
		if s.lead != nil && pipeline.ResolveWebsite(*s.lead, nil) == nil {
			missing = append(missing, s.lead.Name)
		}
		slots[i] = s
	}
	if len(missing) > 0 {
		if c.cfg.MissingWebsitePolicy == config.PolicyReject {
			return nil, &MissingWebsiteError{Leads: missing}
		}
		log.Warn("batch: skipping leads without a website", zap.Strings("names", missing))
	}

	log.Info("batch: processing")
	notify(req.OnStage, StageEnriching)
	c.enrichAll(ctx, slots, req.Overwrite)

	notify(req.OnStage, StagePersisting)
	c.persistAll(ctx, slots)

	result := aggregate(slots)
	status := "ok"
	if !result.Success() {
		status = "no_success"
	}
	c.metrics.ObserveBatch(status, time.Since(start))
	c.metrics.ObservePersistFailure(result.Unsaved)

	log.Info("batch: complete",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("unsaved", result.Unsaved),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (c *Coordinator) enrichAll(ctx context.Context, slots []*slot, overwrite bool) {
	bctx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrent)

	for _, s := range slots {
		if s.lead == nil {
			s.result = model.EnrichmentResult{LeadID: s.id, Error: reasonNotFound}
			continue
		}
		g.Go(func() error {
			s.result = c.enrichSlot(bctx, s, overwrite)
			return nil // one lead never aborts the batch
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) enrichSlot(ctx context.Context, s *slot, overwrite bool) (res model.EnrichmentResult) {
	log := zap.L().With(zap.String("lead_id", s.id), zap.String("lead", s.lead.Name))
	defer func() {
		if r := recover(); r != nil {
			log.Error("batch: lead panicked", zap.Any("panic", r))
			res = model.EnrichmentResult{LeadID: s.id, Error: fmt.Sprintf("enrichment panicked: %v", r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return model.EnrichmentResult{LeadID: s.id, Error: "enrichment timed out"}
	}

	release, err := c.locker.Acquire(ctx, s.id)
	if err != nil {
		if errors.Is(err, coordination.ErrLeaseHeld) {
			log.Info("batch: lead already being enriched")
			return model.EnrichmentResult{LeadID: s.id, Error: reasonInProgress}
		}
		log.Warn("batch: acquire lease failed", zap.Error(err))
		return model.EnrichmentResult{LeadID: s.id, Error: "acquire lease: " + err.Error()}
	}
	s.release = release

	return c.enricher.EnrichOne(ctx, *s.lead, nil, merge.WithOverwrite(overwrite))
}

// persistAll writes every successful result. It runs on the caller's ctx
// so leads enriched before the batch timeout are still saved.
func (c *Coordinator) persistAll(ctx context.Context, slots []*slot) {
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrent)

	for _, s := range slots {
		if !s.result.Success || s.result.EnrichmentData == nil {
			s.unlock()
			continue
		}
		g.Go(func() error {
			defer s.unlock()
			if err := c.store.UpdateLead(ctx, s.id, model.NewLeadUpdate(*s.result.EnrichmentData)); err != nil {
				zap.L().Error("batch: persist failed", zap.String("lead_id", s.id), zap.Error(err))
				s.saveErr = err
				return nil
			}
			s.saved = true
			return nil
		})
	}
	_ = g.Wait()
}

func aggregate(slots []*slot) *model.BatchResult {
	br := &model.BatchResult{
		Processed: len(slots),
		Errors:    []string{},
		Leads:     make([]model.LeadOutcome, 0, len(slots)),
	}

	for _, s := range slots {
		out := model.LeadOutcome{
			LeadID:         s.id,
			Outcome:        s.result.Outcome(),
			Saved:          s.saved,
			EnrichmentData: s.result.EnrichmentData,
			Error:          s.result.Error,
		}
		label := s.id
		if s.lead != nil {
			out.Name = s.lead.Name
			label = s.lead.Name
		}

		switch out.Outcome {
		case model.OutcomeSucceeded:
			br.Succeeded++
			if s.saveErr != nil {
				br.Unsaved++
				out.Error = reasonNotSaved + ": " + s.saveErr.Error()
				br.Errors = append(br.Errors, label+": "+out.Error)
			}
		case model.OutcomeSkipped:
			br.Skipped++
		default:
			br.Failed++
			br.Errors = append(br.Errors, label+": "+out.Error)
		}
		br.Leads = append(br.Leads, out)
	}
	return br
}

// dedupe trims ids and drops blanks and repeats, keeping first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func notify(fn func(Stage), s Stage) {
	if fn != nil {
		fn(s)
	}
}
