// Package merge combines a freshly enriched record with the one already
// stored on a lead.
package merge

import (
	"time"

	"github.com/sells-group/venue-leads/internal/model"
	"github.com/sells-group/venue-leads/internal/scorer"
)

// Option configures a single merge.
type Option func(*options)

type options struct {
	overwrite bool
}

// WithOverwrite lets non-empty incoming values replace existing ones.
// Empty incoming values never erase existing data.
func WithOverwrite(overwrite bool) Option {
	return func(o *options) { o.overwrite = overwrite }
}

// Merger applies the gap-fill merge policy and rescores the result.
type Merger struct {
	scorer *scorer.Scorer
	now    func() time.Time
}

// New creates a Merger. A nil scorer uses scorer.New().
func New(s *scorer.Scorer) *Merger {
	if s == nil {
		s = scorer.New()
	}
	return &Merger{scorer: s, now: time.Now}
}

// NewWithClock creates a Merger with an injected clock for lastUpdated.
func NewWithClock(s *scorer.Scorer, now func() time.Time) *Merger {
	m := New(s)
	m.now = now
	return m
}

// Merge fills gaps in existing from incoming. Scalars keep the existing
// value when known and non-empty; slices keep existing when non-empty and
// are never unioned. The score is recomputed from the merged fields and
// lastUpdated is set to merge time. A nil existing returns incoming as is.
func (m *Merger) Merge(existing *model.EnrichmentRecord, incoming model.EnrichmentRecord, opts ...Option) model.EnrichmentRecord {
	if existing == nil {
		return incoming
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	pickStr := func(e, i *string) *string {
		if o.overwrite && model.Has(i) {
			return i
		}
		if model.Has(e) {
			return e
		}
		if model.Has(i) {
			return i
		}
		return e
	}
	pickBool := func(e, i *bool) *bool {
		if e != nil && !(o.overwrite && i != nil) {
			return e
		}
		if i != nil {
			return i
		}
		return e
	}
	pickInt := func(e, i *int) *int {
		if e != nil && !(o.overwrite && i != nil) {
			return e
		}
		if i != nil {
			return i
		}
		return e
	}
	pickSlice := func(e, i []string) []string {
		if len(e) > 0 && !(o.overwrite && len(i) > 0) {
			return e
		}
		if len(i) > 0 {
			return i
		}
		return []string{}
	}

	out := model.EnrichmentRecord{
		VenueName:          pickStr(existing.VenueName, incoming.VenueName),
		AIOverview:         pickStr(existing.AIOverview, incoming.AIOverview),
		EventManagerName:   pickStr(existing.EventManagerName, incoming.EventManagerName),
		EventManagerEmail:  pickStr(existing.EventManagerEmail, incoming.EventManagerEmail),
		EventManagerPhone:  pickStr(existing.EventManagerPhone, incoming.EventManagerPhone),
		CommonEventTypes:   pickSlice(existing.CommonEventTypes, incoming.CommonEventTypes),
		InHouseCatering:    pickBool(existing.InHouseCatering, incoming.InHouseCatering),
		VenueCapacity:      pickInt(existing.VenueCapacity, incoming.VenueCapacity),
		Amenities:          pickSlice(existing.Amenities, incoming.Amenities),
		PricingInformation: pickStr(existing.PricingInformation, incoming.PricingInformation),
		PreferredCaterers:  pickSlice(existing.PreferredCaterers, incoming.PreferredCaterers),
		Website:            pickStr(existing.Website, incoming.Website),
	}

	score := m.scorer.Detailed(out)
	now := m.now().UTC()
	out.LeadScore = &score
	out.LastUpdated = &now
	return out
}
