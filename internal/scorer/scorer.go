// Package scorer rates venue leads as catering prospects.
//
// Two rule sets are kept side by side. Detailed rates a normalized
// enrichment record with structured contact data. Coarse rates the handful
// of signals available before enrichment (website, email, phone, description).
// Callers choose one; they are not interchangeable.
package scorer

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/venue-leads/internal/model"
)

// Strategy names a scoring rule set.
type Strategy string

const (
	StrategyDetailed Strategy = "detailed"
	StrategyCoarse   Strategy = "coarse"
)

// ParseStrategy validates a strategy name; empty selects detailed.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyDetailed:
		return StrategyDetailed, nil
	case StrategyCoarse:
		return StrategyCoarse, nil
	default:
		return "", fmt.Errorf("scorer: unknown strategy %q", s)
	}
}

// Detailed rule weights.
const (
	weightEmail          = 25
	weightPhone          = 10
	weightName           = 5
	weightCapacity       = 15
	weightEventTypes     = 10
	weightPricing        = 5
	weightNoInHouse      = 25
	weightInHouse        = 5
	weightWebsite        = 5
	weightOverview       = 5
	capacityThreshold    = 50
	longTextThreshold    = 100
	coarseBase           = 20
	coarseWeightWebsite  = 15
	coarseWeightEmail    = 35
	coarseWeightPhone    = 15
	coarseWeightDescribe = 10
)

// Signals are the pre-enrichment inputs to the coarse rule set.
type Signals struct {
	Website     string
	Email       string
	Phone       string
	Description string
}

// SignalsFromLead collects coarse signals from a lead's own fields.
func SignalsFromLead(l model.Lead) Signals {
	return Signals{
		Website:     l.WebsiteURL,
		Email:       l.Email,
		Phone:       l.Phone,
		Description: l.Description,
	}
}

// SignalsFromRecord collects coarse signals from an enrichment record.
func SignalsFromRecord(r model.EnrichmentRecord) Signals {
	return Signals{
		Website:     model.Deref(r.Website),
		Email:       model.Deref(r.EventManagerEmail),
		Phone:       model.Deref(r.EventManagerPhone),
		Description: model.Deref(r.AIOverview),
	}
}

// Scorer computes lead scores. The zero value is not usable; use New.
type Scorer struct {
	now func() time.Time
}

// New creates a Scorer stamped with wall-clock time.
func New() *Scorer {
	return &Scorer{now: time.Now}
}

// NewWithClock creates a Scorer with an injected clock.
func NewWithClock(now func() time.Time) *Scorer {
	return &Scorer{now: now}
}

// Detailed scores a normalized enrichment record. Reasons follow rule order.
func (s *Scorer) Detailed(r model.EnrichmentRecord) model.LeadScore {
	total := 0
	reasons := []string{}
	add := func(points int, reason string) {
		total += points
		reasons = append(reasons, reason)
	}

	if model.Has(r.EventManagerEmail) {
		add(weightEmail, "Has contact email")
	}
	if model.Has(r.EventManagerPhone) {
		add(weightPhone, "Has contact phone")
	}
	if model.Has(r.EventManagerName) {
		add(weightName, "Has contact name")
	}
	if r.VenueCapacity != nil && *r.VenueCapacity > capacityThreshold {
		add(weightCapacity, fmt.Sprintf("Venue capacity: %d", *r.VenueCapacity))
	}
	if len(r.CommonEventTypes) > 0 {
		add(weightEventTypes, "Hosts events: "+strings.Join(r.CommonEventTypes, ", "))
	}
	if model.Has(r.PricingInformation) {
		add(weightPricing, "Has pricing information")
	}
	if r.InHouseCatering != nil {
		if *r.InHouseCatering {
			add(weightInHouse, "Has in-house catering")
		} else {
			add(weightNoInHouse, "No in-house catering (outside caterers needed)")
		}
	}
	if model.Has(r.Website) {
		add(weightWebsite, "Has website")
	}
	if r.AIOverview != nil && utf8.RuneCountInString(*r.AIOverview) > longTextThreshold {
		add(weightOverview, "Detailed venue overview")
	}

	return s.finish(total, reasons)
}

// Coarse scores pre-enrichment signals on top of a fixed base.
func (s *Scorer) Coarse(sig Signals) model.LeadScore {
	total := coarseBase
	reasons := []string{}

	if strings.TrimSpace(sig.Website) != "" {
		total += coarseWeightWebsite
		reasons = append(reasons, "Has website")
	}
	if strings.TrimSpace(sig.Email) != "" {
		total += coarseWeightEmail
		reasons = append(reasons, "Has contact email")
	}
	if strings.TrimSpace(sig.Phone) != "" {
		total += coarseWeightPhone
		reasons = append(reasons, "Has contact phone")
	}
	if utf8.RuneCountInString(strings.TrimSpace(sig.Description)) > longTextThreshold {
		total += coarseWeightDescribe
		reasons = append(reasons, "Detailed description")
	}

	return s.finish(total, reasons)
}

// Score applies the named strategy to a record.
func (s *Scorer) Score(strategy Strategy, r model.EnrichmentRecord) model.LeadScore {
	if strategy == StrategyCoarse {
		return s.Coarse(SignalsFromRecord(r))
	}
	return s.Detailed(r)
}

func (s *Scorer) finish(total int, reasons []string) model.LeadScore {
	score := int(math.Min(100, math.Max(0, float64(total))))
	return model.LeadScore{
		Score:          score,
		Potential:      model.PotentialFor(score),
		Reasons:        reasons,
		LastCalculated: s.now().UTC(),
	}
}
