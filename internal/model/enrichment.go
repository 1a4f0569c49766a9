package model

import "time"

// Potential is the coarse tier derived from a numeric lead score.
type Potential string

const (
	PotentialLow    Potential = "low"
	PotentialMedium Potential = "medium"
	PotentialHigh   Potential = "high"
)

// PotentialFor maps a clamped score to its tier.
func PotentialFor(score int) Potential {
	switch {
	case score >= 70:
		return PotentialHigh
	case score >= 40:
		return PotentialMedium
	default:
		return PotentialLow
	}
}

// LeadScore is a numeric assessment of how promising a venue is as a catering prospect.
type LeadScore struct {
	Score          int       `json:"score"`
	Potential      Potential `json:"potential"`
	Reasons        []string  `json:"reasons"`
	LastCalculated time.Time `json:"lastCalculated"`
}

// EnrichmentRecord is the canonical enrichment payload attached to a lead.
// Nil pointers mean "unknown"; they are never collapsed into "" or false.
// Slices are never nil once the record has been normalized.
type EnrichmentRecord struct {
	VenueName          *string    `json:"venueName,omitempty"`
	AIOverview         *string    `json:"aiOverview,omitempty"`
	EventManagerName   *string    `json:"eventManagerName,omitempty"`
	EventManagerEmail  *string    `json:"eventManagerEmail,omitempty"`
	EventManagerPhone  *string    `json:"eventManagerPhone,omitempty"`
	CommonEventTypes   []string   `json:"commonEventTypes"`
	InHouseCatering    *bool      `json:"inHouseCatering,omitempty"`
	VenueCapacity      *int       `json:"venueCapacity,omitempty"`
	Amenities          []string   `json:"amenities"`
	PricingInformation *string    `json:"pricingInformation,omitempty"`
	PreferredCaterers  []string   `json:"preferredCaterers"`
	Website            *string    `json:"website,omitempty"`
	LeadScore          *LeadScore `json:"leadScore,omitempty"`
	LastUpdated        *time.Time `json:"lastUpdated,omitempty"`
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Has reports whether s is known and non-empty.
func Has(s *string) bool {
	return s != nil && *s != ""
}
