package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

var (
	// ErrNotFound is returned when no job has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a write would break the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConditionNotMet is returned when the status allows the write but a guard does not
	// (retry budget exhausted, error not recoverable, job not stalled).
	ErrConditionNotMet = errors.New("job does not meet the update condition")
	// ErrNoJobAvailable is returned by ClaimNext when nothing is claimable.
	ErrNoJobAvailable = errors.New("no job available")
	// ErrConflictingID is returned by Create when the id is already taken.
	ErrConflictingID = errors.New("job id already exists")
	// ErrLostClaim is returned when a worker writes to a job that has since been
	// recovered and claimed again.
	ErrLostClaim = errors.New("job is claimed by another worker")

	errFailWithoutError = errors.New("fail requires an error record")
)

// Claim identifies one processing attempt. Writes that carry a claim only land
// while the job is still held by that same attempt.
type Claim struct {
	WorkerID  string
	StartedAt time.Time
}

// ClaimOf returns the claim of a job as returned by ClaimNext.
func ClaimOf(job *entity.ProcessingJob) Claim {
	c := Claim{WorkerID: job.WorkerID}
	if job.StartedAt != nil {
		c.StartedAt = *job.StartedAt
	}
	return c
}

func (c Claim) heldBy(j *entity.ProcessingJob) bool {
	return j.WorkerID == c.WorkerID && j.StartedAt != nil &&
		j.StartedAt.UnixMilli() == c.StartedAt.UnixMilli()
}

// Outcome is what a worker writes when an attempt finishes.
type Outcome struct {
	Claim          Claim
	DetectedFormat constants.Format
	Result         *entity.ProcessingResult
	Error          *entity.ProcessingError
	FinishedAt     time.Time
}

// ListFilter narrows List.
type ListFilter struct {
	Status constants.JobStatus
	Limit  int
}

// JobStore is the single source of truth for job lifecycle state. Every status
// change is a conditional update against the current status so concurrent
// workers and processes never both win the same transition.
type JobStore interface {
	Create(ctx context.Context, job *entity.ProcessingJob, content []byte) error
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error)
	Content(ctx context.Context, id uuid.UUID) ([]byte, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.ProcessingJob, error)

	// ClaimNext atomically moves the best PENDING job to PROCESSING: priority
	// high > normal > low, then oldest first; jobs waiting on nextRetryAt are skipped.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*entity.ProcessingJob, error)
	// UpdateProgress, Complete and Fail return ErrLostClaim when the job is
	// PROCESSING under a different claim.
	UpdateProgress(ctx context.Context, id uuid.UUID, claim Claim, percent int, now time.Time) error
	Complete(ctx context.Context, id uuid.UUID, out Outcome) error
	Fail(ctx context.Context, id uuid.UUID, out Outcome) error
	// ScheduleRetry moves FAILED -> PENDING, increments retryCount and sets nextRetryAt,
	// guarded by a recoverable error and retryCount < maxRetries.
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt, now time.Time) error
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) error
	// RecoverStalled moves PROCESSING -> PENDING when startedAt < startedBefore.
	RecoverStalled(ctx context.Context, id uuid.UUID, startedBefore time.Time, countAsRetry bool, now time.Time) error

	FindStalled(ctx context.Context, startedBefore time.Time) ([]*entity.ProcessingJob, error)
	Aggregates(ctx context.Context) (entity.Aggregates, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// claimError maps a failed ownership guard to ErrLostClaim.
func claimError(err error) error {
	if errors.Is(err, ErrConditionNotMet) {
		return ErrLostClaim
	}
	return err
}

func transitionError(from, to constants.JobStatus) error {
	return errors.Join(ErrInvalidTransition, &entity.TransitionError{From: from, To: to})
}

func mustBeLegal(from []constants.JobStatus, to constants.JobStatus) {
	for _, f := range from {
		if !entity.CanTransition(f, to) {
			panic("repository: illegal transition " + string(f) + " -> " + string(to))
		}
	}
}

func containsStatus(list []constants.JobStatus, s constants.JobStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
