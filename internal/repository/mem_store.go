package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

type memRecord struct {
	job     *entity.ProcessingJob
	content []byte
}

// MemJobStore keeps jobs in process memory. It implements the same conditional
// transitions as the SQL store under a single mutex.
type MemJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*memRecord
}

func NewMemJobStore() *MemJobStore {
	return &MemJobStore{jobs: make(map[uuid.UUID]*memRecord)}
}

var _ JobStore = (*MemJobStore)(nil)

func (m *MemJobStore) Create(_ context.Context, job *entity.ProcessingJob, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrConflictingID
	}
	m.jobs[job.ID] = &memRecord{job: job.Clone(), content: append([]byte(nil), content...)}
	return nil
}

func (m *MemJobStore) Get(_ context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.job.Clone(), nil
}

func (m *MemJobStore) Content(_ context.Context, id uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.content...), nil
}

func (m *MemJobStore) List(_ context.Context, filter ListFilter) ([]*entity.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ProcessingJob
	for _, rec := range m.jobs {
		if filter.Status != "" && rec.job.Status != filter.Status {
			continue
		}
		out = append(out, rec.job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = listLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func claimable(j *entity.ProcessingJob, now time.Time) bool {
	return j.Status == constants.JobStatusPending &&
		(j.NextRetryAt == nil || !j.NextRetryAt.After(now))
}

func (m *MemJobStore) ClaimNext(_ context.Context, workerID string, now time.Time) (*entity.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *entity.ProcessingJob
	for _, rec := range m.jobs {
		j := rec.job
		if !claimable(j, now) {
			continue
		}
		if best == nil || claimsBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNoJobAvailable
	}
	started := now
	best.Status = constants.JobStatusProcessing
	best.StartedAt = &started
	best.CompletedAt = nil
	best.WorkerID = workerID
	best.Progress = 0
	return best.Clone(), nil
}

// claimsBefore orders by priority rank desc, then createdAt asc, then id.
func claimsBefore(a, b *entity.ProcessingJob) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (m *MemJobStore) UpdateProgress(_ context.Context, id uuid.UUID, claim Claim, percent int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.job.Status != constants.JobStatusProcessing {
		return ErrConditionNotMet
	}
	if !claim.heldBy(rec.job) {
		return ErrLostClaim
	}
	rec.job.Progress = clampPercent(percent)
	return nil
}

func (m *MemJobStore) Complete(_ context.Context, id uuid.UUID, out Outcome) error {
	err := m.transition(id, []constants.JobStatus{constants.JobStatusProcessing}, constants.JobStatusCompleted, out.Claim.heldBy,
		func(j *entity.ProcessingJob) {
			j.Progress = 100
			j.DetectedFormat = out.DetectedFormat
			j.Result = cloneResult(out.Result)
			j.Error = nil
			j.NextRetryAt = nil
			finish(j, out.FinishedAt)
		})
	return claimError(err)
}

func (m *MemJobStore) Fail(_ context.Context, id uuid.UUID, out Outcome) error {
	if out.Error == nil {
		return errFailWithoutError
	}
	err := m.transition(id, []constants.JobStatus{constants.JobStatusProcessing}, constants.JobStatusFailed, out.Claim.heldBy,
		func(j *entity.ProcessingJob) {
			e := *out.Error
			e.Details = append([]string(nil), out.Error.Details...)
			j.Error = &e
			j.DetectedFormat = out.DetectedFormat
			j.Result = cloneResult(out.Result)
			j.NextRetryAt = nil
			finish(j, out.FinishedAt)
		})
	return claimError(err)
}

func (m *MemJobStore) ScheduleRetry(_ context.Context, id uuid.UUID, nextRetryAt, now time.Time) error {
	guard := func(j *entity.ProcessingJob) bool {
		return j.Error != nil && j.Error.Recoverable && j.RetryCount < j.MaxRetries
	}
	return m.transition(id, []constants.JobStatus{constants.JobStatusFailed}, constants.JobStatusPending, guard,
		func(j *entity.ProcessingJob) {
			last, next := now, nextRetryAt
			j.RetryCount++
			j.LastRetryAt = &last
			j.NextRetryAt = &next
			j.Progress = 0
			j.WorkerID = ""
		})
}

func (m *MemJobStore) Cancel(_ context.Context, id uuid.UUID, now time.Time) error {
	from := []constants.JobStatus{constants.JobStatusPending, constants.JobStatusProcessing}
	return m.transition(id, from, constants.JobStatusCancelled, nil, func(j *entity.ProcessingJob) {
		done := now
		j.CompletedAt = &done
		j.NextRetryAt = nil
	})
}

func (m *MemJobStore) RecoverStalled(_ context.Context, id uuid.UUID, startedBefore time.Time, countAsRetry bool, now time.Time) error {
	guard := func(j *entity.ProcessingJob) bool {
		if j.StartedAt == nil || !j.StartedAt.Before(startedBefore) {
			return false
		}
		return !countAsRetry || j.RetryCount < j.MaxRetries
	}
	return m.transition(id, []constants.JobStatus{constants.JobStatusProcessing}, constants.JobStatusPending, guard,
		func(j *entity.ProcessingJob) {
			j.Progress = 0
			j.StartedAt = nil
			j.NextRetryAt = nil
			j.WorkerID = ""
			if countAsRetry {
				last := now
				j.RetryCount++
				j.LastRetryAt = &last
			}
		})
}

func (m *MemJobStore) FindStalled(_ context.Context, startedBefore time.Time) ([]*entity.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ProcessingJob
	for _, rec := range m.jobs {
		j := rec.job
		if j.Status == constants.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(startedBefore) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(*out[k].StartedAt) })
	return out, nil
}

func permanentlyFailed(j *entity.ProcessingJob) bool {
	return j.Status == constants.JobStatusFailed &&
		(j.Error == nil || !j.Error.Recoverable || j.RetryCount >= j.MaxRetries)
}

func (m *MemJobStore) Aggregates(_ context.Context) (entity.Aggregates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := entity.Aggregates{Counts: make(map[constants.JobStatus]int, len(constants.AllStatuses))}
	var (
		total     time.Duration
		completed int
	)
	for _, rec := range m.jobs {
		j := rec.job
		agg.Counts[j.Status]++
		switch {
		case j.Status == constants.JobStatusPending:
			if j.RetryCount > 0 {
				agg.Retrying++
			}
			if agg.OldestPendingAt == nil || j.CreatedAt.Before(*agg.OldestPendingAt) {
				t := j.CreatedAt
				agg.OldestPendingAt = &t
			}
		case j.Status == constants.JobStatusCompleted:
			total += j.ActualDuration
			completed++
		case permanentlyFailed(j):
			agg.PermanentFailures++
		}
	}
	if completed > 0 {
		agg.AverageDuration = total / time.Duration(completed)
	}
	return agg, nil
}

func (m *MemJobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.jobs {
		j := rec.job
		if j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			continue
		}
		if j.Status == constants.JobStatusCompleted || j.Status == constants.JobStatusCancelled || permanentlyFailed(j) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *MemJobStore) transition(id uuid.UUID, from []constants.JobStatus, to constants.JobStatus,
	guard func(*entity.ProcessingJob) bool, apply func(*entity.ProcessingJob)) error {
	mustBeLegal(from, to)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !containsStatus(from, rec.job.Status) {
		return transitionError(rec.job.Status, to)
	}
	if guard != nil && !guard(rec.job) {
		return ErrConditionNotMet
	}
	rec.job.Status = to
	apply(rec.job)
	return nil
}

func finish(j *entity.ProcessingJob, at time.Time) {
	done := at
	j.CompletedAt = &done
	j.ActualDuration = 0
	if j.StartedAt != nil && at.After(*j.StartedAt) {
		j.ActualDuration = at.Sub(*j.StartedAt)
	}
}

func cloneResult(r *entity.ProcessingResult) *entity.ProcessingResult {
	if r == nil {
		return nil
	}
	c := r.Clone()
	return &c
}
