package entity

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a job lifecycle event.
type EventType string

const (
	EventCreated        EventType = "created"
	EventStarted        EventType = "started"
	EventProgress       EventType = "progress"
	EventCompleted      EventType = "completed"
	EventFailed         EventType = "failed"
	EventCancelled      EventType = "cancelled"
	EventRetryScheduled EventType = "retry_scheduled"
	EventRecovered      EventType = "recovered"
)

// Event is a typed lifecycle notification drained by an external subscriber.
type Event struct {
	Type      EventType      `json:"type"`
	JobID     uuid.UUID      `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
