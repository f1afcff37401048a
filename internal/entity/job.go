package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
)

// ProcessingJob is one file's passage through the pipeline, as persisted by the job store.
type ProcessingJob struct {
	ID             uuid.UUID           `json:"id"`
	FileID         string              `json:"file_id"`
	FileName       string              `json:"file_name"`
	FileSize       int64               `json:"file_size"`
	DeclaredFormat string              `json:"declared_format,omitempty"`
	DetectedFormat constants.Format    `json:"detected_format,omitempty"`
	Status         constants.JobStatus `json:"status"`
	Progress       int                 `json:"progress"`
	Priority       constants.Priority  `json:"priority"`

	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	Result *ProcessingResult `json:"result,omitempty"`
	Error  *ProcessingError  `json:"error,omitempty"`

	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	ActualDuration    time.Duration `json:"actual_duration"`

	Options  ProcessingOptions `json:"options"`
	WorkerID string            `json:"worker_id,omitempty"`
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (j *ProcessingJob) Clone() *ProcessingJob {
	if j == nil {
		return nil
	}
	c := *j
	c.LastRetryAt = cloneTime(j.LastRetryAt)
	c.NextRetryAt = cloneTime(j.NextRetryAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	if j.Result != nil {
		r := j.Result.Clone()
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		e.Details = append([]string(nil), j.Error.Details...)
		c.Error = &e
	}
	c.Options = j.Options.Clone()
	return &c
}

// CanAutoRetry reports whether the retry scheduler may requeue the job.
func (j *ProcessingJob) CanAutoRetry() bool {
	return j.Status == constants.JobStatusFailed &&
		j.Error != nil && j.Error.Recoverable &&
		j.RetryCount < j.MaxRetries
}

// IsTerminal reports whether the job will never change state again on its own.
func (j *ProcessingJob) IsTerminal() bool {
	switch j.Status {
	case constants.JobStatusCompleted, constants.JobStatusCancelled:
		return true
	case constants.JobStatusFailed:
		return !j.CanAutoRetry()
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
