package fetch

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-leads/internal/resilience"
	"github.com/sells-group/venue-leads/pkg/jina"
)

// JinaFetcher reads a page as markdown through Jina Reader.
type JinaFetcher struct {
	client jina.Client
	guard  *resilience.Guard
}

// NewJinaFetcher wraps a Jina client. guard may be nil.
func NewJinaFetcher(client jina.Client, guard *resilience.Guard) *JinaFetcher {
	return &JinaFetcher{client: client, guard: guard}
}

// Name implements Fetcher.
func (f *JinaFetcher) Name() string { return "jina" }

// Fetch implements Fetcher. Jina never returns structured data.
func (f *JinaFetcher) Fetch(ctx context.Context, url string, _ Options) (*Result, error) {
	resp, err := resilience.Call(ctx, f.guard, "jina.read", func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := f.client.Read(ctx, url)
		var apiErr *jina.APIError
		if errors.As(err, &apiErr) && resilience.RetryableStatus(apiErr.StatusCode) {
			return nil, resilience.Transient(err, apiErr.StatusCode)
		}
		return resp, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "fetch: jina")
	}
	if resp.Data.Content == "" {
		return nil, eris.New("fetch: jina returned empty content")
	}
	return &Result{Success: true, Content: resp.Data.Content, Source: f.Name()}, nil
}
