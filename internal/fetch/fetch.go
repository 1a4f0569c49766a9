// Package fetch retrieves venue website content through a chain of
// providers (Firecrawl, Jina Reader, direct HTTP).
package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options tune a single fetch.
type Options struct {
	Timeout time.Duration
	// Schema requests structured extraction from providers that support it.
	Schema map[string]any
	// Prompt accompanies Schema for LLM-backed extraction.
	Prompt string
}

// Result is the outcome of fetching one URL.
type Result struct {
	Success        bool           `json:"success"`
	Content        string         `json:"content,omitempty"`
	StructuredData map[string]any `json:"structuredData,omitempty"`
	Source         string         `json:"source,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Fetcher retrieves the content of a website.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (*Result, error)
	Name() string
}

// Chain tries fetchers in priority order and returns the first success.
type Chain struct {
	fetchers []Fetcher
}

// NewChain creates a Chain. Nil fetchers are ignored.
func NewChain(fetchers ...Fetcher) *Chain {
	c := &Chain{}
	for _, f := range fetchers {
		if f != nil {
			c.fetchers = append(c.fetchers, f)
		}
	}
	return c
}

// Name implements Fetcher.
func (c *Chain) Name() string { return "chain" }

// Names lists the chained fetchers in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.fetchers))
	for i, f := range c.fetchers {
		names[i] = f.Name()
	}
	return names
}

// Fetch bounds the whole chain by opts.Timeout. When every fetcher fails it
// returns an unsuccessful Result together with the combined error.
func (c *Chain) Fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var reasons []string
	for _, f := range c.fetchers {
		res, err := f.Fetch(ctx, url, opts)
		if err == nil && res != nil && res.Success && (res.Content != "" || len(res.StructuredData) > 0) {
			if res.Source == "" {
				res.Source = f.Name()
			}
			return res, nil
		}
		if err == nil {
			err = eris.New("empty content")
		}
		zap.L().Debug("fetch: fetcher failed, trying next",
			zap.String("fetcher", f.Name()),
			zap.String("url", url),
			zap.Error(err),
		)
		reasons = append(reasons, f.Name()+": "+err.Error())
		if ctx.Err() != nil {
			break
		}
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "no fetchers configured")
	}
	msg := strings.Join(reasons, "; ")
	return &Result{Success: false, Error: msg}, eris.Errorf("fetch: all fetchers failed for %s: %s", url, msg)
}
