package entity

import (
	"time"

	"github.com/google/uuid"
)

// ProgressUpdate is ephemeral, in-process progress for one job.
type ProgressUpdate struct {
	JobID          uuid.UUID `json:"job_id"`
	Stage          string    `json:"stage"`
	Percent        int       `json:"percent"`
	BytesProcessed int64     `json:"bytes_processed,omitempty"`
	BytesTotal     int64     `json:"bytes_total,omitempty"`
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ProgressCallback receives every update for the jobs it is registered on.
type ProgressCallback func(ProgressUpdate) error
