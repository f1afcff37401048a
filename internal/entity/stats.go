package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
)

// Aggregates is what the store can compute in one pass over the jobs table.
type Aggregates struct {
	Counts            map[constants.JobStatus]int
	Retrying          int
	AverageDuration   time.Duration
	OldestPendingAt   *time.Time
	PermanentFailures int
}

// Statistics is the monitor's view of the queue.
type Statistics struct {
	Total           int                         `json:"total"`
	ByStatus        map[constants.JobStatus]int `json:"by_status"`
	Retrying        int                         `json:"retrying"`
	Stalled         int                         `json:"stalled"`
	SuccessRate     float64                     `json:"success_rate"`
	FailureRate     float64                     `json:"failure_rate"`
	AverageDuration time.Duration               `json:"average_duration"`
	OldestPending   time.Duration               `json:"oldest_pending"`
	GeneratedAt     time.Time                   `json:"generated_at"`
}

// HealthStatus is the coarse health classification.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the result of a health check.
type Health struct {
	Status    HealthStatus `json:"status"`
	Issues    []string     `json:"issues"`
	Stats     Statistics   `json:"stats"`
	CheckedAt time.Time    `json:"checked_at"`
}

// JobView is what the status boundary returns for one job.
type JobView struct {
	ID          uuid.UUID           `json:"id"`
	FileID      string              `json:"file_id"`
	FileName    string              `json:"file_name"`
	Status      constants.JobStatus `json:"status"`
	Progress    int                 `json:"progress"`
	Stage       string              `json:"stage,omitempty"`
	RetryCount  int                 `json:"retry_count"`
	MaxRetries  int                 `json:"max_retries"`
	NextRetryAt *time.Time          `json:"next_retry_at,omitempty"`
	Result      *ProcessingResult   `json:"result,omitempty"`
	Error       *ProcessingError    `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}
