package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-api-key", WithBaseURL(srv.URL))
}

func TestScrape(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantErr    bool
		wantStatus int
		check      func(t *testing.T, resp *ScrapeResponse)
	}{
		{
			name: "markdown and json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/scrape", r.URL.Path)
				assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

				var req ScrapeRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "https://oakhall.com", req.URL)
				assert.Equal(t, []string{FormatMarkdown, FormatJSON}, req.Formats)
				require.NotNil(t, req.JSONOptions)
				assert.Equal(t, "object", req.JSONOptions.Schema["type"])

				w.Write([]byte(`{"success":true,"data":{"markdown":"# Oak Hall","json":{"venue_name":"Oak Hall"},"metadata":{"title":"Oak Hall","sourceURL":"https://oakhall.com","statusCode":200}}}`))
			},
			check: func(t *testing.T, resp *ScrapeResponse) {
				assert.True(t, resp.Success)
				assert.Equal(t, "# Oak Hall", resp.Data.Markdown)
				assert.Equal(t, "Oak Hall", resp.Data.JSON["venue_name"])
				assert.Equal(t, 200, resp.Data.Metadata.StatusCode)
			},
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"slow down"}`))
			},
			wantErr:    true,
			wantStatus: 429,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{not json`))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, tt.handler)
			resp, err := c.Scrape(context.Background(), ScrapeRequest{
				URL:         "https://oakhall.com",
				Formats:     []string{FormatMarkdown, FormatJSON},
				JSONOptions: &JSONOptions{Schema: map[string]any{"type": "object"}},
			})

			if tt.wantErr {
				require.Error(t, err)
				if tt.wantStatus != 0 {
					var apiErr *APIError
					require.ErrorAs(t, err, &apiErr)
					assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
				}
				return
			}
			require.NoError(t, err)
			tt.check(t, resp)
		})
	}
}
