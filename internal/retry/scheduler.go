package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/repository"
)

// Scheduler decides retry eligibility and writes FAILED -> PENDING with a
// nextRetryAt in the future. Claims ignore the job until that time passes.
type Scheduler struct {
	store  repository.JobStore
	policy *Policy
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(store repository.JobStore, policy *Policy, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	s := &Scheduler{store: store, policy: policy, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy exposes the delay policy.
func (s *Scheduler) Policy() *Policy { return s.policy }

// Eligible reports whether job may be requeued: FAILED, a recoverable error
// and retry budget left.
func Eligible(job *entity.ProcessingJob) bool {
	return job != nil && job.CanAutoRetry()
}

// ScheduleRetry requeues the job and reports whether it did. An ineligible job
// is not an error.
func (s *Scheduler) ScheduleRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load job: %w", err)
	}
	_, ok, err := s.schedule(ctx, job)
	return ok, err
}

// ScheduleJob is ScheduleRetry for a job the caller already holds; it returns
// the nextRetryAt that was written.
func (s *Scheduler) ScheduleJob(ctx context.Context, job *entity.ProcessingJob) (time.Time, bool, error) {
	return s.schedule(ctx, job)
}

func (s *Scheduler) schedule(ctx context.Context, job *entity.ProcessingJob) (time.Time, bool, error) {
	if !Eligible(job) {
		s.logger.Debug("job not eligible for retry", "job_id", job.ID, "status", job.Status, "retry_count", job.RetryCount, "max_retries", job.MaxRetries)
		return time.Time{}, false, nil
	}
	now := s.now()
	delay := s.policy.Delay(job.RetryCount)
	next := now.Add(delay)

	err := s.store.ScheduleRetry(ctx, job.ID, next, now)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrConditionNotMet), errors.Is(err, repository.ErrInvalidTransition):
		// Lost a race with another scheduler or a cancellation.
		s.logger.Debug("retry not scheduled", "job_id", job.ID, "error", err)
		return time.Time{}, false, nil
	default:
		return time.Time{}, false, fmt.Errorf("schedule retry: %w", err)
	}

	s.logger.Info("retry scheduled",
		"job_id", job.ID,
		"attempt", job.RetryCount+1,
		"max_retries", job.MaxRetries,
		"delay", delay,
		"next_retry_at", next,
	)
	return next, true, nil
}
