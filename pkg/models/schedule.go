package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/relaydata/relay-engine/pkg/schedule"
)

// Schedule is the recurrence configuration that causes jobs to be
// auto-created for a connection. Exactly one schedule exists per connection
// (unique constraint in the store).
type Schedule struct {
	ID           uuid.UUID           `json:"id"`
	ConnectionID uuid.UUID           `json:"connection_id"`
	Recurrence   schedule.Recurrence `json:"-"`
	IsActive     bool                `json:"is_active"`
	LastRun      *time.Time          `json:"last_run,omitempty"`
	NextRun      *time.Time          `json:"next_run,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}
