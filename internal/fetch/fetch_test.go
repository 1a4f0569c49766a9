package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-leads/internal/resilience"
	"github.com/sells-group/venue-leads/pkg/firecrawl"
	"github.com/sells-group/venue-leads/pkg/jina"
)

type stubFetcher struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (s *stubFetcher) Name() string { return s.name }
func (s *stubFetcher) Fetch(_ context.Context, _ string, _ Options) (*Result, error) {
	s.calls++
	return s.result, s.err
}

type mockFirecrawl struct{ mock.Mock }

func (m *mockFirecrawl) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*firecrawl.ScrapeResponse)
	return resp, args.Error(1)
}

type mockJina struct{ mock.Mock }

func (m *mockJina) Read(ctx context.Context, url string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, url)
	resp, _ := args.Get(0).(*jina.ReadResponse)
	return resp, args.Error(1)
}

func fastGuard() *resilience.Guard {
	p := resilience.DefaultRetryPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = time.Millisecond
	return &resilience.Guard{Policy: p}
}

func TestChain_FirstSuccess(t *testing.T) {
	first := &stubFetcher{name: "primary", result: &Result{Success: true, Content: "Oak Hall seats 300"}}
	second := &stubFetcher{name: "fallback"}

	res, err := NewChain(first, nil, second).Fetch(context.Background(), "https://oakhall.com", Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "primary", res.Source)
	assert.Equal(t, 0, second.calls)
}

func TestChain_FallsThrough(t *testing.T) {
	first := &stubFetcher{name: "primary", err: errors.New("boom")}
	empty := &stubFetcher{name: "empty", result: &Result{Success: true}}
	last := &stubFetcher{name: "local", result: &Result{Success: true, Content: "text"}}

	res, err := NewChain(first, empty, last).Fetch(context.Background(), "https://oakhall.com", Options{})
	require.NoError(t, err)
	assert.Equal(t, "local", res.Source)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, empty.calls)
}

func TestChain_AllFail(t *testing.T) {
	a := &stubFetcher{name: "a", err: errors.New("down")}
	b := &stubFetcher{name: "b", err: errors.New("blocked")}

	res, err := NewChain(a, b).Fetch(context.Background(), "https://oakhall.com", Options{})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "a: down")
	assert.Contains(t, res.Error, "b: blocked")
}

func TestChain_Empty(t *testing.T) {
	res, err := NewChain().Fetch(context.Background(), "https://oakhall.com", Options{})
	require.Error(t, err)
	assert.Equal(t, "no fetchers configured", res.Error)
}

func TestFirecrawlFetcher_WithSchema(t *testing.T) {
	fc := &mockFirecrawl{}
	schema := map[string]any{"type": "object"}
	fc.On("Scrape", mock.Anything, mock.MatchedBy(func(req firecrawl.ScrapeRequest) bool {
		return req.URL == "https://oakhall.com" &&
			len(req.Formats) == 2 &&
			req.JSONOptions != nil &&
			req.TimeoutMs == 5000
	})).Return(&firecrawl.ScrapeResponse{
		Success: true,
		Data: firecrawl.PageData{
			Markdown: "# Oak Hall",
			JSON:     map[string]any{"venueName": "Oak Hall"},
		},
	}, nil)

	f := NewFirecrawlFetcher(fc, nil)
	res, err := f.Fetch(context.Background(), "https://oakhall.com", Options{Timeout: 5 * time.Second, Schema: schema})
	require.NoError(t, err)
	assert.Equal(t, "# Oak Hall", res.Content)
	assert.Equal(t, "Oak Hall", res.StructuredData["venueName"])
	assert.Equal(t, "firecrawl", res.Source)
	fc.AssertExpectations(t)
}

func TestFirecrawlFetcher_RetriesTransient(t *testing.T) {
	fc := &mockFirecrawl{}
	fc.On("Scrape", mock.Anything, mock.Anything).
		Return(nil, &firecrawl.APIError{StatusCode: http.StatusServiceUnavailable, Body: "busy"}).Once()
	fc.On("Scrape", mock.Anything, mock.Anything).
		Return(&firecrawl.ScrapeResponse{Success: true, Data: firecrawl.PageData{Markdown: "ok"}}, nil).Once()

	res, err := NewFirecrawlFetcher(fc, fastGuard()).Fetch(context.Background(), "https://oakhall.com", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	fc.AssertNumberOfCalls(t, "Scrape", 2)
}

func TestFirecrawlFetcher_NoRetryOnClientError(t *testing.T) {
	fc := &mockFirecrawl{}
	fc.On("Scrape", mock.Anything, mock.Anything).
		Return(nil, &firecrawl.APIError{StatusCode: http.StatusPaymentRequired, Body: "credits"})

	_, err := NewFirecrawlFetcher(fc, fastGuard()).Fetch(context.Background(), "https://oakhall.com", Options{})
	require.Error(t, err)
	fc.AssertNumberOfCalls(t, "Scrape", 1)
}

func TestFirecrawlFetcher_Unsuccessful(t *testing.T) {
	fc := &mockFirecrawl{}
	fc.On("Scrape", mock.Anything, mock.Anything).
		Return(&firecrawl.ScrapeResponse{Success: false, Error: "timeout"}, nil)

	_, err := NewFirecrawlFetcher(fc, nil).Fetch(context.Background(), "https://oakhall.com", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestJinaFetcher(t *testing.T) {
	jc := &mockJina{}
	jc.On("Read", mock.Anything, "https://oakhall.com").
		Return(&jina.ReadResponse{Data: jina.ReadData{Content: "Oak Hall hosts weddings"}}, nil)

	res, err := NewJinaFetcher(jc, nil).Fetch(context.Background(), "https://oakhall.com", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Oak Hall hosts weddings", res.Content)
	assert.Nil(t, res.StructuredData)
	assert.Equal(t, "jina", res.Source)
}

func TestJinaFetcher_Empty(t *testing.T) {
	jc := &mockJina{}
	jc.On("Read", mock.Anything, mock.Anything).Return(&jina.ReadResponse{}, nil)

	_, err := NewJinaFetcher(jc, nil).Fetch(context.Background(), "https://oakhall.com", Options{})
	assert.Error(t, err)
}

const oakHallHTML = `<html><head><title>Oak Hall | Events</title>
<meta name="description" content="A historic hall for weddings and galas.">
<script>var tracking = true;</script><style>body{}</style></head>
<body><h1>Oak Hall</h1><p>Seats up to 300 guests for weddings, corporate events and galas.</p>
<a href="mailto:events@oakhall.com">Email us</a> <a href="tel:+15551234567">Call</a></body></html>`

func TestLocalFetcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "VenueLeadsBot")
		w.Write([]byte(oakHallHTML)) //nolint:errcheck
	}))
	defer ts.Close()

	res, err := NewLocalFetcher(0).Fetch(context.Background(), ts.URL, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Content, "# Oak Hall | Events")
	assert.Contains(t, res.Content, "historic hall")
	assert.Contains(t, res.Content, "Seats up to 300 guests")
	assert.Contains(t, res.Content, "mailto:events@oakhall.com")
	assert.NotContains(t, res.Content, "tracking")
}

func TestLocalFetcher_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		want    string
	}{
		{name: "not found", status: http.StatusNotFound, body: oakHallHTML, want: "status 404"},
		{name: "cloudflare", status: http.StatusForbidden, headers: map[string]string{"cf-ray": "abc"}, body: "denied", want: "cloudflare"},
		{name: "captcha", status: http.StatusOK, body: `<div class="g-recaptcha"></div>`, want: "captcha"},
		{name: "empty", status: http.StatusOK, body: "<html><body>hi</body></html>", want: "empty page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer ts.Close()

			_, err := NewLocalFetcher(0).Fetch(context.Background(), ts.URL, Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		body string
		want BlockType
	}{
		{name: "nil response", resp: nil, want: BlockNone},
		{name: "clean", resp: &http.Response{StatusCode: 200, Header: http.Header{}}, body: oakHallHTML, want: BlockNone},
		{name: "cf server header", resp: &http.Response{StatusCode: 503, Header: http.Header{"Server": {"cloudflare"}}}, want: BlockCloudflare},
		{name: "browser check", resp: &http.Response{StatusCode: 200, Header: http.Header{}}, body: "Checking your browser before accessing", want: BlockCloudflare},
		{name: "hcaptcha", resp: &http.Response{StatusCode: 200, Header: http.Header{}}, body: `<div class="h-captcha">`, want: BlockCaptcha},
		{name: "js shell", resp: &http.Response{StatusCode: 200, Header: http.Header{}}, body: `<noscript>Please enable JavaScript</noscript>`, want: BlockJSShell},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, kind := DetectBlock(tt.resp, []byte(tt.body))
			assert.Equal(t, tt.want != BlockNone, blocked)
			assert.Equal(t, tt.want, kind)
		})
	}
}
