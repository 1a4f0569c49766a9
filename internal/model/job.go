package model

import "time"

// JobStatus represents the current state of an async enrichment job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusEnriching  JobStatus = "enriching"
	JobStatusPersisting JobStatus = "persisting"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Job tracks one async batch enrichment request.
type Job struct {
	ID        string       `json:"id"`
	LeadIDs   []string     `json:"leadIds"`
	Overwrite bool         `json:"overwrite"`
	Status    JobStatus    `json:"status"`
	Result    *BatchResult `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	PolledAt  *time.Time   `json:"polledAt,omitempty"`
}
