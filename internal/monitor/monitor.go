package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/repository"
)

// Monitor reads the store on demand or on a timer. The only writes it makes
// are stalled-job recovery and retention cleanup.
type Monitor struct {
	store  repository.JobStore
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu          sync.RWMutex
	last        *entity.Health
	onRecovered []func(*entity.ProcessingJob)
	onHealth    []func(entity.Health)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// OnRecovered is called with each job after recovery, including ones that
// were failed because their retry budget ran out.
func OnRecovered(fn func(*entity.ProcessingJob)) Option {
	return func(m *Monitor) { m.onRecovered = append(m.onRecovered, fn) }
}

// OnHealth is called with the result of every timed health check.
func OnHealth(fn func(entity.Health)) Option {
	return func(m *Monitor) { m.onHealth = append(m.onHealth, fn) }
}

func New(store repository.JobStore, cfg Config, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{store: store, cfg: cfg, now: time.Now, logger: logger}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Statistics aggregates counts and rates. The success rate is measured over
// finished work: completed jobs against completed plus permanently failed.
func (m *Monitor) Statistics(ctx context.Context) (entity.Statistics, error) {
	now := m.now()
	agg, err := m.store.Aggregates(ctx)
	if err != nil {
		return entity.Statistics{}, fmt.Errorf("aggregate jobs: %w", err)
	}
	stalled, err := m.DetectStalled(ctx)
	if err != nil {
		return entity.Statistics{}, err
	}

	stats := entity.Statistics{
		ByStatus:        make(map[constants.JobStatus]int, len(constants.AllStatuses)),
		Retrying:        agg.Retrying,
		Stalled:         len(stalled),
		SuccessRate:     1,
		AverageDuration: agg.AverageDuration,
		GeneratedAt:     now,
	}
	for _, s := range constants.AllStatuses {
		stats.ByStatus[s] = agg.Counts[s]
		stats.Total += agg.Counts[s]
	}
	completed := agg.Counts[constants.JobStatusCompleted]
	if finished := completed + agg.PermanentFailures; finished > 0 {
		stats.SuccessRate = float64(completed) / float64(finished)
		stats.FailureRate = float64(agg.PermanentFailures) / float64(finished)
	}
	if agg.OldestPendingAt != nil {
		if age := now.Sub(*agg.OldestPendingAt); age > 0 {
			stats.OldestPending = age
		}
	}
	return stats, nil
}

// CheckHealth classifies the queue. Every threshold crossed adds an issue.
func (m *Monitor) CheckHealth(ctx context.Context) (entity.Health, error) {
	stats, err := m.Statistics(ctx)
	if err != nil {
		return entity.Health{}, err
	}
	h := Classify(stats, m.cfg.Thresholds)
	h.CheckedAt = stats.GeneratedAt

	m.mu.Lock()
	m.last = &h
	m.mu.Unlock()
	return h, nil
}

// Classify applies thresholds to stats.
func Classify(stats entity.Statistics, t Thresholds) entity.Health {
	h := entity.Health{Status: entity.HealthHealthy, Issues: []string{}, Stats: stats}
	degrade := func(issue string) {
		h.Issues = append(h.Issues, issue)
		if h.Status == entity.HealthHealthy {
			h.Status = entity.HealthDegraded
		}
	}
	fail := func(issue string) {
		h.Issues = append(h.Issues, issue)
		h.Status = entity.HealthUnhealthy
	}

	switch {
	case stats.SuccessRate < t.UnhealthySuccessRate:
		fail(fmt.Sprintf("success rate %.1f%% below %.0f%%", stats.SuccessRate*100, t.UnhealthySuccessRate*100))
	case stats.SuccessRate < t.DegradedSuccessRate:
		degrade(fmt.Sprintf("success rate %.1f%% below %.0f%%", stats.SuccessRate*100, t.DegradedSuccessRate*100))
	}
	switch {
	case stats.Stalled > t.UnhealthyStalled:
		fail(fmt.Sprintf("%d stalled jobs exceed %d", stats.Stalled, t.UnhealthyStalled))
	case stats.Stalled > 0:
		degrade(fmt.Sprintf("%d stalled jobs", stats.Stalled))
	}
	if stats.OldestPending > t.MaxPendingAge {
		degrade(fmt.Sprintf("oldest pending job waiting %s", stats.OldestPending.Round(time.Second)))
	}
	if pending := stats.ByStatus[constants.JobStatusPending]; pending > t.MaxPendingBacklog {
		degrade(fmt.Sprintf("pending backlog %d exceeds %d", pending, t.MaxPendingBacklog))
	}
	return h
}

// LastHealth returns the most recent CheckHealth result.
func (m *Monitor) LastHealth() (entity.Health, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return entity.Health{}, false
	}
	return *m.last, true
}

// DetectStalled lists PROCESSING jobs whose startedAt is older than the threshold.
func (m *Monitor) DetectStalled(ctx context.Context) ([]*entity.ProcessingJob, error) {
	jobs, err := m.store.FindStalled(ctx, m.now().Add(-m.cfg.StalledThreshold))
	if err != nil {
		return nil, fmt.Errorf("find stalled jobs: %w", err)
	}
	return jobs, nil
}

// RecoverStalled requeues stalled jobs and returns how many were requeued.
// With CountStallAsRetry a job whose budget is spent is failed with STALLED instead.
func (m *Monitor) RecoverStalled(ctx context.Context) (int, error) {
	now := m.now()
	cutoff := now.Add(-m.cfg.StalledThreshold)
	jobs, err := m.store.FindStalled(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stalled jobs: %w", err)
	}

	recovered := 0
	var errs []error
	for _, job := range jobs {
		err := m.store.RecoverStalled(ctx, job.ID, cutoff, m.cfg.CountStallAsRetry, now)
		switch {
		case err == nil:
			recovered++
			m.logger.Warn("recovered stalled job",
				"job_id", job.ID,
				"worker_id", job.WorkerID,
				"started_at", job.StartedAt,
				"count_as_retry", m.cfg.CountStallAsRetry,
			)
		case errors.Is(err, repository.ErrConditionNotMet) && m.cfg.CountStallAsRetry:
			failed, ferr := m.failExhausted(ctx, job.ID, cutoff, now)
			if ferr != nil {
				errs = append(errs, ferr)
				continue
			}
			if !failed {
				continue
			}
		case errors.Is(err, repository.ErrConditionNotMet), errors.Is(err, repository.ErrInvalidTransition), errors.Is(err, repository.ErrNotFound):
			// Finished, cancelled or refreshed since it was listed.
			m.logger.Debug("stalled job moved on before recovery", "job_id", job.ID, "error", err)
			continue
		default:
			m.logger.Error("failed to recover stalled job", "job_id", job.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		m.notifyRecovered(ctx, job.ID)
	}
	return recovered, errors.Join(errs...)
}

// failExhausted fails a stalled job whose retry budget is spent. It re-reads
// the job first: a refused recovery may also mean the job was re-claimed or
// finished, and those are left alone.
func (m *Monitor) failExhausted(ctx context.Context, id uuid.UUID, cutoff, now time.Time) (bool, error) {
	job, err := m.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reload stalled job: %w", err)
	}
	if job.Status != constants.JobStatusProcessing || job.StartedAt == nil ||
		!job.StartedAt.Before(cutoff) || job.RetryCount < job.MaxRetries {
		m.logger.Debug("stalled job moved on before recovery", "job_id", id, "status", job.Status)
		return false, nil
	}

	perr := entity.NewProcessingError(constants.ErrCodeStalled,
		"worker %s stopped reporting; retry budget of %d spent", job.WorkerID, job.MaxRetries)
	out := repository.Outcome{
		Claim:          repository.ClaimOf(job),
		DetectedFormat: job.DetectedFormat,
		Result:         job.Result,
		Error:          perr,
		FinishedAt:     now,
	}
	err = m.store.Fail(ctx, id, out)
	if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrLostClaim) {
		m.logger.Debug("stalled job moved on before it could be failed", "job_id", id, "error", err)
		return false, nil
	}
	if err != nil {
		m.logger.Error("failed to fail exhausted stalled job", "job_id", id, "error", err)
		return false, err
	}
	m.logger.Warn("stalled job failed permanently", "job_id", id, "retry_count", job.RetryCount)
	return true, nil
}

func (m *Monitor) notifyRecovered(ctx context.Context, id uuid.UUID) {
	if len(m.onRecovered) == 0 {
		return
	}
	job, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Warn("failed to reload recovered job", "job_id", id, "error", err)
		return
	}
	for _, fn := range m.onRecovered {
		fn(job)
	}
}

// Cleanup deletes terminal jobs that finished before the retention window.
func (m *Monitor) Cleanup(ctx context.Context) (int64, error) {
	if m.cfg.RetentionWindow <= 0 {
		return 0, nil
	}
	n, err := m.store.DeleteTerminalBefore(ctx, m.now().Add(-m.cfg.RetentionWindow))
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	if n > 0 {
		m.logger.Info("deleted expired jobs", "count", n, "retention", m.cfg.RetentionWindow)
	}
	return n, nil
}

// Run checks health every HealthCheckInterval and cleans up every
// CleanupInterval until ctx is done. With AutoRecover, stalled jobs found by a
// check are recovered straight away.
func (m *Monitor) Run(ctx context.Context) error {
	health := time.NewTicker(m.cfg.HealthCheckInterval)
	defer health.Stop()

	var cleanup <-chan time.Time
	if m.cfg.CleanupInterval > 0 && m.cfg.RetentionWindow > 0 {
		t := time.NewTicker(m.cfg.CleanupInterval)
		defer t.Stop()
		cleanup = t.C
	}

	m.logger.Info("monitor started",
		"health_interval", m.cfg.HealthCheckInterval,
		"stalled_threshold", m.cfg.StalledThreshold,
		"auto_recover", m.cfg.AutoRecover,
	)
	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return nil
		case <-health.C:
			m.Tick(ctx)
		case <-cleanup:
			if _, err := m.Cleanup(ctx); err != nil {
				m.logger.Error("cleanup failed", "error", err)
			}
		}
	}
}

// Tick runs one health check and, when needed, recovery.
func (m *Monitor) Tick(ctx context.Context) {
	h, err := m.CheckHealth(ctx)
	if err != nil {
		m.logger.Error("health check failed", "error", err)
		return
	}
	level := slog.LevelDebug
	if h.Status != entity.HealthHealthy {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "health checked", "status", h.Status, "issues", h.Issues, "stalled", h.Stats.Stalled)

	if m.cfg.AutoRecover && h.Stats.Stalled > 0 {
		if n, err := m.RecoverStalled(ctx); err != nil {
			m.logger.Error("stalled recovery failed", "recovered", n, "error", err)
		}
	}
	for _, fn := range m.onHealth {
		fn(h)
	}
}
