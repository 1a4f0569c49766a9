package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-leads/internal/ai"
	"github.com/sells-group/venue-leads/internal/batch"
	"github.com/sells-group/venue-leads/internal/config"
	"github.com/sells-group/venue-leads/internal/coordination"
	"github.com/sells-group/venue-leads/internal/cost"
	"github.com/sells-group/venue-leads/internal/fetch"
	"github.com/sells-group/venue-leads/internal/jobs"
	"github.com/sells-group/venue-leads/internal/metrics"
	"github.com/sells-group/venue-leads/internal/pipeline"
	"github.com/sells-group/venue-leads/internal/resilience"
	"github.com/sells-group/venue-leads/internal/store"
	"github.com/sells-group/venue-leads/pkg/firecrawl"
	"github.com/sells-group/venue-leads/pkg/jina"
)

// enrichEnv holds the store and the enrichment stack used by the enrich
// and serve commands.
type enrichEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Batch    *batch.Coordinator
	Jobs     *jobs.Runner
	Metrics  *metrics.EnrichmentMetrics
	closers  []func() error
}

// Close waits for background jobs and releases resources.
func (e *enrichEnv) Close() {
	if e.Jobs != nil {
		e.Jobs.Wait()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnrich builds the full enrichment stack. Callers should defer
// env.Close().
func initEnrich(ctx context.Context, mode string) (*enrichEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &enrichEnv{Store: st, closers: []func() error{st.Close}}

	completer, err := ai.New(cfg, cost.NewCalculator(cfg.Pricing.Models))
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init ai")
	}

	locker, closeLocker := coordination.NewLocker(cfg.Redis)
	env.closers = append(env.closers, closeLocker)
	if cfg.Redis.Addr != "" {
		zap.L().Info("per-lead leases enabled", zap.String("redis", cfg.Redis.Addr))
	}

	env.Metrics = metrics.NewEnrichmentMetrics(prometheus.DefaultRegisterer)
	env.Pipeline = pipeline.New(buildFetcher(cfg), completer, pipeline.ConfigFrom(cfg),
		pipeline.WithMetrics(env.Metrics))
	env.Batch = batch.New(st, env.Pipeline, batch.ConfigFrom(cfg),
		batch.WithLocker(locker), batch.WithMetrics(env.Metrics))
	env.Jobs = jobs.New(st, env.Batch, time.Duration(cfg.Jobs.RetentionHours)*time.Hour)

	return env, nil
}

// buildFetcher assembles the fetch chain: Firecrawl (when keyed), Jina
// Reader, then direct HTTP when enabled.
func buildFetcher(c *config.Config) *fetch.Chain {
	var fetchers []fetch.Fetcher

	if c.Firecrawl.Key != "" {
		client := firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
		fetchers = append(fetchers, fetch.NewFirecrawlFetcher(client, resilience.NewGuard("firecrawl", c.Resilience)))
	} else {
		zap.L().Debug("LEADS_FIRECRAWL_KEY not set, firecrawl disabled")
	}

	client := jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL))
	fetchers = append(fetchers, fetch.NewJinaFetcher(client, resilience.NewGuard("jina", c.Resilience)))

	if c.Fetch.LocalFallback {
		fetchers = append(fetchers, fetch.NewLocalFetcher(c.Fetch.MaxBodyBytes))
	}
	return fetch.NewChain(fetchers...)
}
