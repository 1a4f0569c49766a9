// Package ai issues schema-guided completions against OpenAI or Anthropic.
package ai

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/venue-leads/internal/config"
	"github.com/sells-group/venue-leads/internal/cost"
	"github.com/sells-group/venue-leads/internal/resilience"
	"github.com/sells-group/venue-leads/pkg/anthropic"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Options tune one completion.
type Options struct {
	System     string
	Schema     map[string]any
	SchemaName string
	MaxTokens  int
	Timeout    time.Duration
}

// Completion is the raw model output plus its accounting.
type Completion struct {
	Text  string
	Model string
	Usage cost.Usage
}

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (*Completion, error)
}

// New builds the Completer selected by cfg.AI.Provider.
func New(cfg *config.Config, calc *cost.Calculator) (Completer, error) {
	limiter := newLimiter(cfg.AI.RateLimit, cfg.AI.Burst)
	guard := resilience.NewGuard(cfg.AI.Provider, cfg.Resilience)

	switch cfg.AI.Provider {
	case ProviderOpenAI, "":
		if cfg.AI.OpenAI.Key == "" {
			return nil, eris.New("ai: openai key is not configured")
		}
		return NewOpenAICompleter(newOpenAIClient(cfg.AI.OpenAI), cfg.AI.OpenAI.Model,
			WithLimiter(limiter), WithGuard(guard), WithCost(calc), WithMaxTokens(cfg.AI.MaxTokens)), nil
	case ProviderAnthropic:
		if cfg.AI.Anthropic.Key == "" {
			return nil, eris.New("ai: anthropic key is not configured")
		}
		return NewAnthropicCompleter(anthropic.NewClient(cfg.AI.Anthropic.Key), cfg.AI.Anthropic.Model,
			WithLimiter(limiter), WithGuard(guard), WithCost(calc), WithMaxTokens(cfg.AI.MaxTokens)), nil
	default:
		return nil, eris.Errorf("ai: unknown provider %q", cfg.AI.Provider)
	}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Option configures a completer.
type Option func(*base)

// WithLimiter throttles outbound calls. nil disables throttling.
func WithLimiter(l *rate.Limiter) Option { return func(b *base) { b.limiter = l } }

// WithGuard wraps calls in retries and a circuit breaker.
func WithGuard(g *resilience.Guard) Option { return func(b *base) { b.guard = g } }

// WithCost logs the cost of every completion.
func WithCost(c *cost.Calculator) Option { return func(b *base) { b.cost = c } }

// WithMaxTokens sets the default completion budget.
func WithMaxTokens(n int) Option { return func(b *base) { b.maxTokens = n } }

// base holds the concerns shared by every provider.
type base struct {
	provider  string
	model     string
	maxTokens int
	limiter   *rate.Limiter
	guard     *resilience.Guard
	cost      *cost.Calculator
}

func newBase(provider, model string, opts []Option) base {
	b := base{provider: provider, model: model, maxTokens: 2000}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// prepare waits for a rate-limit token and applies the per-call timeout.
func (b *base) prepare(ctx context.Context, opts Options) (context.Context, context.CancelFunc, error) {
	cancel := func() {}
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			cancel()
			return nil, nil, eris.Wrap(err, "ai: rate limit wait")
		}
	}
	return ctx, cancel, nil
}

func (b *base) tokens(opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return b.maxTokens
}

func (b *base) record(c *Completion) {
	if b.cost != nil {
		b.cost.Log(b.provider, c.Model, c.Usage)
	}
}
