package model

// Outcome classifies what happened to a single lead.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// EnrichmentResult is the per-lead outcome of the enrichment pipeline.
// Success is false only for hard failures with no usable fallback data.
type EnrichmentResult struct {
	LeadID         string            `json:"leadId"`
	Success        bool              `json:"success"`
	Skipped        bool              `json:"skipped,omitempty"`
	EnrichmentData *EnrichmentRecord `json:"enrichmentData,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Outcome derives the outcome category of the result.
func (r EnrichmentResult) Outcome() Outcome {
	switch {
	case r.Skipped:
		return OutcomeSkipped
	case r.Success:
		return OutcomeSucceeded
	default:
		return OutcomeFailed
	}
}

// LeadOutcome is the per-lead entry of a batch result.
type LeadOutcome struct {
	LeadID         string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Outcome        Outcome           `json:"outcome"`
	Saved          bool              `json:"saved"`
	EnrichmentData *EnrichmentRecord `json:"enrichmentData,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// BatchResult aggregates the outcomes of one enrichMany call.
// Unsaved counts leads that were enriched but could not be persisted;
// they are included in Succeeded.
type BatchResult struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Unsaved   int           `json:"unsaved"`
	Errors    []string      `json:"errors"`
	Leads     []LeadOutcome `json:"leads"`
}

// Success reports whether at least one lead was enriched.
func (b *BatchResult) Success() bool {
	return b.Succeeded > 0
}
