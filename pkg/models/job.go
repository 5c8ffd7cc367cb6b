package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the state machine position of a sync job.
// pending -> running -> completed | failed. Terminal states are immutable.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobType distinguishes full reloads from future incremental variants.
type JobType string

const (
	JobTypeFullSync    JobType = "full_sync"
	JobTypeIncremental JobType = "incremental_sync"
)

// TriggerType records what caused the job to be created.
type TriggerType string

const (
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeManual    TriggerType = "manual"
)

// SyncJob is one execution attempt of syncing a connection into the
// analytics store. At most one job per connection may be pending or running
// at any instant; the store enforces this with a partial unique index.
type SyncJob struct {
	ID               uuid.UUID   `json:"id"`
	ConnectionID     uuid.UUID   `json:"connection_id"`
	Status           JobStatus   `json:"status"`
	JobType          JobType     `json:"job_type"`
	TriggerType      TriggerType `json:"trigger_type"`
	RecordsProcessed int64       `json:"records_processed"`
	RecordsSkipped   int64       `json:"records_skipped"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}
