package model

import "time"

// LeadStatus is the lifecycle state of a lead.
type LeadStatus string

const (
	LeadStatusNew      LeadStatus = "new"
	LeadStatusSaved    LeadStatus = "saved"
	LeadStatusEnriched LeadStatus = "enriched"
)

// Lead is a venue the user may pitch catering services to.
type Lead struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	WebsiteURL     string            `json:"website_url,omitempty" yaml:"website_url"`
	Phone          string            `json:"phone,omitempty" yaml:"phone"`
	Email          string            `json:"email,omitempty" yaml:"email"`
	Address        string            `json:"address,omitempty" yaml:"address"`
	Description    string            `json:"description,omitempty" yaml:"description"`
	Status         LeadStatus        `json:"status" yaml:"status"`
	EnrichmentData *EnrichmentRecord `json:"enrichment_data,omitempty" yaml:"-"`
	LeadScore      *int              `json:"lead_score,omitempty" yaml:"-"`
	LeadScoreLabel Potential         `json:"lead_score_label,omitempty" yaml:"-"`
	ContactName    string            `json:"contact_name,omitempty" yaml:"-"`
	ContactEmail   string            `json:"contact_email,omitempty" yaml:"-"`
	ContactPhone   string            `json:"contact_phone,omitempty" yaml:"-"`
	CreatedAt      time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time         `json:"updated_at" yaml:"-"`
}

// LeadUpdate is the write applied to a lead after enrichment. The scalar
// contact and score columns are derived from EnrichmentData.
type LeadUpdate struct {
	EnrichmentData EnrichmentRecord `json:"enrichment_data"`
	Status         LeadStatus       `json:"status"`
	LeadScore      int              `json:"lead_score"`
	LeadScoreLabel Potential        `json:"lead_score_label"`
	ContactName    *string          `json:"contact_name,omitempty"`
	ContactEmail   *string          `json:"contact_email,omitempty"`
	ContactPhone   *string          `json:"contact_phone,omitempty"`
}

// NewLeadUpdate derives the persisted columns from an enriched record.
func NewLeadUpdate(rec EnrichmentRecord) LeadUpdate {
	upd := LeadUpdate{
		EnrichmentData: rec,
		Status:         LeadStatusEnriched,
		LeadScoreLabel: PotentialLow,
		ContactName:    rec.EventManagerName,
		ContactEmail:   rec.EventManagerEmail,
		ContactPhone:   rec.EventManagerPhone,
	}
	if rec.LeadScore != nil {
		upd.LeadScore = rec.LeadScore.Score
		upd.LeadScoreLabel = rec.LeadScore.Potential
	}
	return upd
}
