// Package pipeline enriches a single venue lead: resolve website, fetch
// content, extract with AI (or fall back to the lead's own fields),
// normalize, score and merge with previously stored data.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-leads/internal/ai"
	"github.com/sells-group/venue-leads/internal/config"
	"github.com/sells-group/venue-leads/internal/fetch"
	"github.com/sells-group/venue-leads/internal/merge"
	"github.com/sells-group/venue-leads/internal/metrics"
	"github.com/sells-group/venue-leads/internal/model"
	"github.com/sells-group/venue-leads/internal/normalize"
	"github.com/sells-group/venue-leads/internal/scorer"
)

// Extraction sources reported to metrics.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// Config holds the per-lead limits.
type Config struct {
	FetchTimeout    time.Duration
	AITimeout       time.Duration
	MaxContentChars int
	MaxTokens       int
}

// ConfigFrom derives pipeline limits from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		FetchTimeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		AITimeout:       time.Duration(cfg.AI.TimeoutSecs) * time.Second,
		MaxContentChars: cfg.Pipeline.MaxContentChars,
		MaxTokens:       cfg.AI.MaxTokens,
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage and outcome metrics.
func WithMetrics(m *metrics.EnrichmentMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock injects the clock used for lastUpdated and score timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs the enrichment stages for one lead at a time. It holds no
// per-lead state and is safe for concurrent use.
type Pipeline struct {
	fetcher fetch.Fetcher
	ai      ai.Completer
	cfg     Config
	metrics *metrics.EnrichmentMetrics
	now     func() time.Time
	scorer  *scorer.Scorer
	merger  *merge.Merger
}

// New creates a Pipeline. A nil fetcher enriches from empty content and a
// nil completer always takes the fallback path.
func New(f fetch.Fetcher, c ai.Completer, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: f,
		ai:      c,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.scorer = scorer.NewWithClock(p.now)
	p.merger = merge.NewWithClock(p.scorer, p.now)
	return p
}

// Scorer exposes the scorer so callers score with the same clock.
func (p *Pipeline) Scorer() *scorer.Scorer { return p.scorer }

// EnrichOne enriches a lead. extracted is optional caller-supplied data
// about the venue; it supplies a website when the lead has none and fills
// gaps in the extracted record. Fetch and AI failures degrade to the
// fallback record and still succeed, including a fetch or AI call cut short
// by the context. Only a panic or a context already done on entry yields
// Success false.
func (p *Pipeline) EnrichOne(ctx context.Context, lead model.Lead, extracted map[string]any, opts ...merge.Option) (res model.EnrichmentResult) {
	start := p.now()
	log := zap.L().With(zap.String("lead_id", lead.ID), zap.String("lead", lead.Name))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: recovered from panic", zap.Any("panic", r))
			res = model.EnrichmentResult{LeadID: lead.ID, Error: fmt.Sprintf("enrichment panicked: %v", r)}
		}
		p.metrics.ObserveLead(string(res.Outcome()), p.now().Sub(start))
	}()

	res.LeadID = lead.ID
	if err := ctx.Err(); err != nil {
		res.Error = interrupted(err)
		return res
	}

	website := ResolveWebsite(lead, extracted)
	if website == nil {
		log.Info("pipeline: no website, skipping")
		res.Skipped = true
		res.Error = "no website URL"
		return res
	}
	log = log.With(zap.String("url", *website))

	// Fetch. A failure leaves content empty.
	var fetched *fetch.Result
	_ = p.trackStage(log, "fetch", func() error {
		r, err := p.fetchContent(ctx, *website)
		fetched = r
		return err
	})

	// AI extraction, with the lead-only fallback when it yields nothing.
	var raw map[string]any
	source := SourceAI
	if err := p.trackStage(log, "extract", func() error {
		var err error
		raw, err = p.extract(ctx, lead, *website, fetched)
		return err
	}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn("pipeline: extraction interrupted, using fallback record", zap.String("reason", interrupted(ctxErr)))
		}
		raw = Fallback(lead, *website)
		source = SourceFallback
	}
	p.metrics.ObserveExtraction(source)

	rec := normalize.Normalize(raw)
	if !model.Has(rec.Website) {
		rec.Website = website
	}
	if source == SourceAI && fetched != nil && len(fetched.StructuredData) > 0 {
		rec = fillGaps(rec, normalize.Normalize(fetched.StructuredData))
	}
	if len(extracted) > 0 {
		rec = fillGaps(rec, normalize.Normalize(extracted))
	}

	score := p.scorer.Detailed(rec)
	rec.LeadScore = &score
	now := p.now().UTC()
	rec.LastUpdated = &now

	final := p.merger.Merge(lead.EnrichmentData, rec, opts...)
	p.metrics.ObserveScore(final.LeadScore.Score)

	log.Info("pipeline: lead enriched",
		zap.String("source", source),
		zap.Int("score", final.LeadScore.Score),
		zap.String("potential", string(final.LeadScore.Potential)),
	)

	res.Success = true
	res.EnrichmentData = &final
	return res
}

func (p *Pipeline) fetchContent(ctx context.Context, website string) (*fetch.Result, error) {
	if p.fetcher == nil {
		return nil, eris.New("pipeline: no fetcher configured")
	}
	r, err := p.fetcher.Fetch(ctx, website, fetch.Options{
		Timeout: p.cfg.FetchTimeout,
		Schema:  VenueSchema(),
		Prompt:  extractPrompt,
	})
	if err != nil {
		return nil, err
	}
	if r == nil || !r.Success {
		reason := "unsuccessful fetch"
		if r != nil && r.Error != "" {
			reason = r.Error
		}
		return nil, eris.New(reason)
	}
	return r, nil
}

func (p *Pipeline) extract(ctx context.Context, lead model.Lead, website string, fetched *fetch.Result) (map[string]any, error) {
	if p.ai == nil {
		return nil, eris.New("pipeline: no AI completer configured")
	}
	var content string
	var structured map[string]any
	if fetched != nil {
		content = fetched.Content
		structured = fetched.StructuredData
	}

	prompt := BuildPrompt(lead, website, content, structured, p.cfg.MaxContentChars)
	completion, err := p.ai.Complete(ctx, prompt, ai.Options{
		System:     systemPrompt,
		Schema:     VenueSchema(),
		SchemaName: SchemaName,
		MaxTokens:  p.cfg.MaxTokens,
		Timeout:    p.cfg.AITimeout,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ai completion")
	}
	raw, err := normalize.ParseAIJSON(completion.Text)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// trackStage times a stage and logs its outcome. Stage failures are
// absorbed by the caller, so they log at warn level.
func (p *Pipeline) trackStage(log *zap.Logger, name string, fn func() error) error {
	start := p.now()
	err := fn()
	duration := p.now().Sub(start).Milliseconds()

	if err != nil {
		p.metrics.ObserveStageFailure(name)
		log.Warn("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
		return err
	}
	log.Debug("pipeline: stage complete",
		zap.String("stage", name),
		zap.Int64("duration_ms", duration),
	)
	return nil
}

// fillGaps copies values from extra into fields rec leaves unknown.
func fillGaps(rec, extra model.EnrichmentRecord) model.EnrichmentRecord {
	str := func(dst **string, src *string) {
		if !model.Has(*dst) && model.Has(src) {
			*dst = src
		}
	}
	list := func(dst *[]string, src []string) {
		if len(*dst) == 0 && len(src) > 0 {
			*dst = src
		}
	}
	str(&rec.VenueName, extra.VenueName)
	str(&rec.AIOverview, extra.AIOverview)
	str(&rec.EventManagerName, extra.EventManagerName)
	str(&rec.EventManagerEmail, extra.EventManagerEmail)
	str(&rec.EventManagerPhone, extra.EventManagerPhone)
	str(&rec.PricingInformation, extra.PricingInformation)
	str(&rec.Website, extra.Website)
	list(&rec.CommonEventTypes, extra.CommonEventTypes)
	list(&rec.Amenities, extra.Amenities)
	list(&rec.PreferredCaterers, extra.PreferredCaterers)
	if rec.InHouseCatering == nil {
		rec.InHouseCatering = extra.InHouseCatering
	}
	if rec.VenueCapacity == nil {
		rec.VenueCapacity = extra.VenueCapacity
	}
	return rec
}

func interrupted(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "enrichment timed out"
	}
	return "enrichment cancelled"
}
