package fetch

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-leads/internal/resilience"
	"github.com/sells-group/venue-leads/pkg/firecrawl"
)

// FirecrawlFetcher scrapes markdown and, when a schema is given, structured
// JSON through Firecrawl.
type FirecrawlFetcher struct {
	client firecrawl.Client
	guard  *resilience.Guard
}

// NewFirecrawlFetcher wraps a Firecrawl client. guard may be nil.
func NewFirecrawlFetcher(client firecrawl.Client, guard *resilience.Guard) *FirecrawlFetcher {
	return &FirecrawlFetcher{client: client, guard: guard}
}

// Name implements Fetcher.
func (f *FirecrawlFetcher) Name() string { return "firecrawl" }

// Fetch implements Fetcher.
func (f *FirecrawlFetcher) Fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	req := firecrawl.ScrapeRequest{
		URL:             url,
		Formats:         []string{firecrawl.FormatMarkdown},
		OnlyMainContent: true,
	}
	if opts.Timeout > 0 {
		req.TimeoutMs = int(opts.Timeout.Milliseconds())
	}
	if len(opts.Schema) > 0 {
		req.Formats = append(req.Formats, firecrawl.FormatJSON)
		req.JSONOptions = &firecrawl.JSONOptions{Schema: opts.Schema, Prompt: opts.Prompt}
	}

	resp, err := resilience.Call(ctx, f.guard, "firecrawl.scrape", func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		resp, err := f.client.Scrape(ctx, req)
		var apiErr *firecrawl.APIError
		if errors.As(err, &apiErr) && resilience.RetryableStatus(apiErr.StatusCode) {
			return nil, resilience.Transient(err, apiErr.StatusCode)
		}
		return resp, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "fetch: firecrawl")
	}
	if !resp.Success {
		return nil, eris.Errorf("fetch: firecrawl unsuccessful: %s", resp.Error)
	}

	return &Result{
		Success:        true,
		Content:        resp.Data.Markdown,
		StructuredData: resp.Data.JSON,
		Source:         f.Name(),
	}, nil
}
