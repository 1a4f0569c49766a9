package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-leads/internal/ai"
	"github.com/sells-group/venue-leads/internal/config"
	"github.com/sells-group/venue-leads/internal/fetch"
	"github.com/sells-group/venue-leads/internal/merge"
	"github.com/sells-group/venue-leads/internal/metrics"
	"github.com/sells-group/venue-leads/internal/model"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string, opts ai.Options) (*ai.Completion, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Completion), args.Error(1)
}

type stubFetcher struct {
	fn    func(url string) (*fetch.Result, error)
	calls int
}

func (s *stubFetcher) Name() string { return "stub" }

func (s *stubFetcher) Fetch(_ context.Context, url string, _ fetch.Options) (*fetch.Result, error) {
	s.calls++
	return s.fn(url)
}

func contentFetcher(content string) *stubFetcher {
	return &stubFetcher{fn: func(string) (*fetch.Result, error) {
		return &fetch.Result{Success: true, Content: content, Source: "stub"}, nil
	}}
}

func newTestPipeline(f fetch.Fetcher, c ai.Completer) *Pipeline {
	return New(f, c, Config{MaxContentChars: 12000, MaxTokens: 1000},
		WithClock(func() time.Time { return fixedNow }),
		WithMetrics(metrics.NewEnrichmentMetrics(prometheus.NewRegistry())),
	)
}

func TestEnrichOne_AIUnreachableFallsBackToLeadFields(t *testing.T) {
	f := contentFetcher("Oak Hall\nContact: events@oakhall.com")
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused"))

	p := newTestPipeline(f, c)
	res := p.EnrichOne(context.Background(), model.Lead{ID: "1", Name: "Oak Hall", WebsiteURL: "oakhall.com"}, nil)

	require.True(t, res.Success)
	assert.Equal(t, model.OutcomeSucceeded, res.Outcome())
	assert.Equal(t, "1", res.LeadID)
	require.NotNil(t, res.EnrichmentData)
	rec := res.EnrichmentData
	assert.Nil(t, rec.EventManagerEmail)
	assert.Equal(t, "Oak Hall", model.Deref(rec.VenueName))
	assert.Equal(t, "https://oakhall.com", model.Deref(rec.Website))
	require.NotNil(t, rec.LeadScore)
	assert.Equal(t, 5, rec.LeadScore.Score)
	assert.Equal(t, model.PotentialLow, rec.LeadScore.Potential)
	assert.Equal(t, []string{"Has website"}, rec.LeadScore.Reasons)
	require.NotNil(t, rec.LastUpdated)
	assert.Equal(t, fixedNow, *rec.LastUpdated)
	assert.Equal(t, 1, f.calls)
	c.AssertExpectations(t)
}

func TestEnrichOne_AIExtraction(t *testing.T) {
	f := contentFetcher("Weddings and galas for up to 300 guests. Call Dana at 555-0100.")
	c := &mockCompleter{}
	c.On("Complete", mock.Anything,
		mock.MatchedBy(func(prompt string) bool {
			return strings.Contains(prompt, "Oak Hall") && strings.Contains(prompt, "up to 300 guests")
		}),
		mock.MatchedBy(func(o ai.Options) bool {
			return o.SchemaName == SchemaName && o.Schema != nil && o.MaxTokens == 1000
		}),
	).Return(&ai.Completion{Text: "```json\n" + `{
		"venueName": "Oak Hall",
		"eventManagerName": "Dana Reyes",
		"eventManagerEmail": "dana@oakhall.com",
		"eventManagerPhone": "555-0100",
		"commonEventTypes": ["Weddings", "Galas", "weddings"],
		"inHouseCatering": false,
		"venueCapacity": "Up to 300 guests",
		"amenities": [],
		"pricingInformation": "N/A"
	}` + "\n```"}, nil)

	p := newTestPipeline(f, c)
	res := p.EnrichOne(context.Background(), model.Lead{ID: "1", Name: "Oak Hall", WebsiteURL: "https://www.OakHall.com/events"}, nil)

	require.True(t, res.Success)
	rec := res.EnrichmentData
	require.NotNil(t, rec)
	assert.Equal(t, "dana@oakhall.com", model.Deref(rec.EventManagerEmail))
	assert.Equal(t, []string{"Weddings", "Galas"}, rec.CommonEventTypes)
	require.NotNil(t, rec.VenueCapacity)
	assert.Equal(t, 300, *rec.VenueCapacity)
	assert.Nil(t, rec.PricingInformation)
	assert.Equal(t, "https://www.oakhall.com", model.Deref(rec.Website))
	// email 25 + phone 10 + name 5 + capacity 15 + event types 10 + no in-house 25 + website 5
	assert.Equal(t, 95, rec.LeadScore.Score)
	assert.Equal(t, model.PotentialHigh, rec.LeadScore.Potential)
	c.AssertExpectations(t)
}

func TestEnrichOne_NoWebsiteSkips(t *testing.T) {
	f := contentFetcher("unused")
	c := &mockCompleter{}
	p := newTestPipeline(f, c)

	res := p.EnrichOne(context.Background(), model.Lead{ID: "2", Name: "Pine Barn"}, map[string]any{"amenities": []any{"parking"}})

	assert.False(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Equal(t, model.OutcomeSkipped, res.Outcome())
	assert.Nil(t, res.EnrichmentData)
	assert.Zero(t, f.calls)
	c.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnrichOne_WebsiteFromExtractedData(t *testing.T) {
	var fetchedURL string
	f := &stubFetcher{fn: func(url string) (*fetch.Result, error) {
		fetchedURL = url
		return &fetch.Result{Success: true, Content: "Pine Barn hosts rustic weddings."}, nil
	}}

	p := newTestPipeline(f, nil)
	res := p.EnrichOne(context.Background(), model.Lead{ID: "2", Name: "Pine Barn"}, map[string]any{
		"website_url": "pinebarn.events",
		"amenities":   []any{"Parking", "Bridal suite"},
	})

	require.True(t, res.Success)
	assert.Equal(t, "https://pinebarn.events", fetchedURL)
	assert.Equal(t, []string{"Parking", "Bridal suite"}, res.EnrichmentData.Amenities)
	assert.Equal(t, "https://pinebarn.events", model.Deref(res.EnrichmentData.Website))
}

func TestEnrichOne_FetchFailureStillCallsAI(t *testing.T) {
	f := &stubFetcher{fn: func(string) (*fetch.Result, error) {
		return &fetch.Result{Success: false, Error: "firecrawl: timeout"}, errors.New("all fetchers failed")
	}}
	c := &mockCompleter{}
	c.On("Complete", mock.Anything,
		mock.MatchedBy(func(prompt string) bool { return strings.Contains(prompt, "(unavailable") }),
		mock.Anything,
	).Return(&ai.Completion{Text: `{"eventManagerPhone": "555-0199"}`}, nil)

	p := newTestPipeline(f, c)
	res := p.EnrichOne(context.Background(), model.Lead{ID: "3", Name: "Elm Lodge", WebsiteURL: "elmlodge.com"}, nil)

	require.True(t, res.Success)
	assert.Equal(t, "555-0199", model.Deref(res.EnrichmentData.EventManagerPhone))
	assert.Equal(t, 15, res.EnrichmentData.LeadScore.Score)
	c.AssertExpectations(t)
}

func TestEnrichOne_UnparsableAIResponseFallsBack(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(&ai.Completion{Text: "Sorry, I could not find anything about this venue."}, nil)

	p := newTestPipeline(contentFetcher("text"), c)
	lead := model.Lead{ID: "4", Name: "Maple Hall", WebsiteURL: "maplehall.com", Phone: "555-0142", Email: "info@maplehall.com"}
	res := p.EnrichOne(context.Background(), lead, nil)

	require.True(t, res.Success)
	rec := res.EnrichmentData
	assert.Equal(t, "info@maplehall.com", model.Deref(rec.EventManagerEmail))
	assert.Equal(t, "555-0142", model.Deref(rec.EventManagerPhone))
	assert.Equal(t, 40, rec.LeadScore.Score)
	assert.Equal(t, model.PotentialMedium, rec.LeadScore.Potential)
	assert.Equal(t, []string{}, rec.CommonEventTypes)
}

func TestEnrichOne_StructuredDataFillsGaps(t *testing.T) {
	f := &stubFetcher{fn: func(string) (*fetch.Result, error) {
		return &fetch.Result{
			Success: true,
			Content: "Oak Hall",
			StructuredData: map[string]any{
				"eventManagerEmail": "events@oakhall.com",
				"venueCapacity":     450,
			},
		}, nil
	}}
	c := &mockCompleter{}
	c.On("Complete", mock.Anything,
		mock.MatchedBy(func(prompt string) bool { return strings.Contains(prompt, "events@oakhall.com") }),
		mock.Anything,
	).Return(&ai.Completion{Text: `{"venueName": "Oak Hall", "eventManagerEmail": null}`}, nil)

	p := newTestPipeline(f, c)
	res := p.EnrichOne(context.Background(), model.Lead{ID: "1", Name: "Oak Hall", WebsiteURL: "oakhall.com"}, nil)

	require.True(t, res.Success)
	assert.Equal(t, "events@oakhall.com", model.Deref(res.EnrichmentData.EventManagerEmail))
	require.NotNil(t, res.EnrichmentData.VenueCapacity)
	assert.Equal(t, 450, *res.EnrichmentData.VenueCapacity)
	c.AssertExpectations(t)
}

func TestEnrichOne_MergesWithExisting(t *testing.T) {
	existing := &model.EnrichmentRecord{
		EventManagerEmail: model.String("a@x.com"),
		CommonEventTypes:  []string{"Weddings"},
		Amenities:         []string{},
		PreferredCaterers: []string{},
	}
	aiResponse := `{"eventManagerEmail": "b@y.com", "eventManagerPhone": "555-0100", "commonEventTypes": ["Corporate"]}`

	tests := []struct {
		name      string
		opts      []merge.Option
		wantEmail string
		wantTypes []string
	}{
		{name: "keeps existing", wantEmail: "a@x.com", wantTypes: []string{"Weddings"}},
		{name: "overwrite", opts: []merge.Option{merge.WithOverwrite(true)}, wantEmail: "b@y.com", wantTypes: []string{"Corporate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCompleter{}
			c.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(&ai.Completion{Text: aiResponse}, nil)
			p := newTestPipeline(contentFetcher("text"), c)

			lead := model.Lead{ID: "1", Name: "Oak Hall", WebsiteURL: "oakhall.com", EnrichmentData: existing}
			res := p.EnrichOne(context.Background(), lead, nil, tt.opts...)

			require.True(t, res.Success)
			rec := res.EnrichmentData
			assert.Equal(t, tt.wantEmail, model.Deref(rec.EventManagerEmail))
			assert.Equal(t, "555-0100", model.Deref(rec.EventManagerPhone))
			assert.Equal(t, tt.wantTypes, rec.CommonEventTypes)
			// email 25 + phone 10 + event types 10 + website 5
			assert.Equal(t, 50, rec.LeadScore.Score)
		})
	}
}

func TestEnrichOne_PanicIsFailure(t *testing.T) {
	f := &stubFetcher{fn: func(string) (*fetch.Result, error) { panic("nil map write") }}
	p := newTestPipeline(f, nil)

	res := p.EnrichOne(context.Background(), model.Lead{ID: "5", Name: "Broken", WebsiteURL: "broken.example"}, nil)

	assert.False(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Equal(t, model.OutcomeFailed, res.Outcome())
	assert.Equal(t, "5", res.LeadID)
	assert.Contains(t, res.Error, "nil map write")
	assert.Nil(t, res.EnrichmentData)
}

func TestEnrichOne_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := contentFetcher("text")
	p := newTestPipeline(f, nil)

	res := p.EnrichOne(ctx, model.Lead{ID: "6", Name: "Late", WebsiteURL: "late.example"}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, "enrichment cancelled", res.Error)
	assert.Zero(t, f.calls)

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	res = p.EnrichOne(ctx, model.Lead{ID: "6", Name: "Late", WebsiteURL: "late.example"}, nil)
	assert.Equal(t, "enrichment timed out", res.Error)
}

func TestEnrichOne_DeadlineDuringExtractionUsesFallback(t *testing.T) {
	f := contentFetcher("Oak Hall hosts weddings.")
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := newTestPipeline(f, c)
	res := p.EnrichOne(ctx, model.Lead{ID: "8", Name: "Oak Hall", WebsiteURL: "oakhall.com", Phone: "555-0100"}, nil)

	require.True(t, res.Success)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.EnrichmentData)
	assert.Equal(t, "Oak Hall", model.Deref(res.EnrichmentData.VenueName))
	assert.Equal(t, "555-0100", model.Deref(res.EnrichmentData.EventManagerPhone))
	// phone 10 + website 5
	assert.Equal(t, 15, res.EnrichmentData.LeadScore.Score)
	c.AssertExpectations(t)
}

func TestEnrichOne_NilCollaborators(t *testing.T) {
	p := newTestPipeline(nil, nil)

	res := p.EnrichOne(context.Background(), model.Lead{ID: "7", Name: "Cedar Room", WebsiteURL: "cedarroom.com", Email: "hi@cedarroom.com"}, nil)

	require.True(t, res.Success)
	assert.Equal(t, "hi@cedarroom.com", model.Deref(res.EnrichmentData.EventManagerEmail))
	assert.Equal(t, 30, res.EnrichmentData.LeadScore.Score)
}

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Fetch:    config.FetchConfig{TimeoutSecs: 90},
		AI:       config.AIConfig{TimeoutSecs: 60, MaxTokens: 2000},
		Pipeline: config.PipelineConfig{MaxContentChars: 12000},
	}

	got := ConfigFrom(cfg)
	assert.Equal(t, Config{
		FetchTimeout:    90 * time.Second,
		AITimeout:       60 * time.Second,
		MaxContentChars: 12000,
		MaxTokens:       2000,
	}, got)
}
