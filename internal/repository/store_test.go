package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteStore(t *testing.T) JobStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Config{Driver: "sqlite", DSN: "file::memory:", DialAttempts: 1}, quietLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLJobStore(db, quietLogger())
}

func newMemStore(t *testing.T) JobStore {
	return NewMemJobStore()
}

func forEachStore(t *testing.T, fn func(t *testing.T, s JobStore)) {
	stores := map[string]func(*testing.T) JobStore{
		"memory": newMemStore,
		"sqlite": newSQLiteStore,
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func newJob(name string, priority constants.Priority, createdAt time.Time) *entity.ProcessingJob {
	return &entity.ProcessingJob{
		ID:             uuid.New(),
		FileID:         "file-" + name,
		FileName:       name,
		FileSize:       4,
		DeclaredFormat: "txt",
		Status:         constants.JobStatusPending,
		Priority:       priority,
		MaxRetries:     3,
		CreatedAt:      createdAt,
		Options:        entity.ProcessingOptions{MaxPages: 5},
	}
}

func mustCreate(t *testing.T, s JobStore, job *entity.ProcessingJob) {
	t.Helper()
	if err := s.Create(context.Background(), job, []byte("data")); err != nil {
		t.Fatalf("create %s: %v", job.FileName, err)
	}
}

func mustClaim(t *testing.T, s JobStore, now time.Time) *entity.ProcessingJob {
	t.Helper()
	job, err := s.ClaimNext(context.Background(), "w1", now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return job
}

func TestStore_CreateGetContent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		ctx := context.Background()
		job := newJob("a.txt", constants.PriorityNormal, t0)
		mustCreate(t, s, job)

		got, err := s.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.FileName != "a.txt" || got.Status != constants.JobStatusPending || got.MaxRetries != 3 {
			t.Fatalf("unexpected job: %+v", got)
		}
		if got.Options.MaxPages != 5 {
			t.Errorf("options not persisted: %+v", got.Options)
		}
		if !got.CreatedAt.Equal(t0) {
			t.Errorf("created_at = %v, want %v", got.CreatedAt, t0)
		}
		if got.StartedAt != nil {
			t.Errorf("started_at should be unset before the first claim")
		}

		content, err := s.Content(ctx, job.ID)
		if err != nil || string(content) != "data" {
			t.Fatalf("content = %q, %v", content, err)
		}
		if _, err := s.Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Errorf("get missing: got %v, want ErrNotFound", err)
		}
	})
}

func TestStore_ClaimOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		low := newJob("low", constants.PriorityLow, t0)
		normalOld := newJob("normal-old", constants.PriorityNormal, t0.Add(time.Second))
		normalNew := newJob("normal-new", constants.PriorityNormal, t0.Add(2*time.Second))
		high := newJob("high", constants.PriorityHigh, t0.Add(3*time.Second))
		for _, j := range []*entity.ProcessingJob{low, normalNew, high, normalOld} {
			mustCreate(t, s, j)
		}

		now := t0.Add(time.Minute)
		want := []string{"high", "normal-old", "normal-new", "low"}
		for _, name := range want {
			got := mustClaim(t, s, now)
			if got.FileName != name {
				t.Fatalf("claimed %s, want %s", got.FileName, name)
			}
			if got.Status != constants.JobStatusProcessing || got.StartedAt == nil || got.WorkerID != "w1" {
				t.Fatalf("claim did not mark processing: %+v", got)
			}
		}
		if _, err := s.ClaimNext(context.Background(), "w1", now); !errors.Is(err, ErrNoJobAvailable) {
			t.Fatalf("expected ErrNoJobAvailable, got %v", err)
		}
	})
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		mustCreate(t, s, newJob("only", constants.PriorityNormal, t0))

		const workers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ClaimNext(context.Background(), uuid.NewString(), t0)
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				} else if !errors.Is(err, ErrNoJobAvailable) {
					t.Errorf("claim: %v", err)
				}
			}()
		}
		wg.Wait()
		if winners != 1 {
			t.Fatalf("winners = %d, want exactly 1", winners)
		}
	})
}

func TestStore_TransitionsFollowStateMachine(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		ctx := context.Background()
		job := newJob("doc", constants.PriorityNormal, t0)
		mustCreate(t, s, job)

		// PENDING -> COMPLETED is not an edge.
		err := s.Complete(ctx, job.ID, Outcome{FinishedAt: t0})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("complete pending: got %v, want ErrInvalidTransition", err)
		}
		var te *entity.TransitionError
		if !errors.As(err, &te) || te.From != constants.JobStatusPending || te.To != constants.JobStatusCompleted {
			t.Fatalf("expected TransitionError PENDING->COMPLETED, got %v", err)
		}

		claimed := mustClaim(t, s, t0)
		res := &entity.ProcessingResult{Success: true, Text: "hello world text", Source: "TXT"}
		if err := s.Complete(ctx, job.ID, Outcome{Claim: ClaimOf(claimed), DetectedFormat: constants.FormatTXT, Result: res, FinishedAt: t0.Add(2 * time.Second)}); err != nil {
			t.Fatalf("complete: %v", err)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.Status != constants.JobStatusCompleted || got.Progress != 100 || got.Result == nil || got.Result.Text != "hello world text" {
			t.Fatalf("unexpected completed job: %+v", got)
		}
		if got.ActualDuration != 2*time.Second {
			t.Errorf("actual duration = %v, want 2s", got.ActualDuration)
		}
		if got.DetectedFormat != constants.FormatTXT || got.Result.Source != "TXT" {
			t.Errorf("detected/source not persisted: %+v", got)
		}

		// COMPLETED never changes again.
		if err := s.Cancel(ctx, job.ID, t0); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("cancel completed: got %v", err)
		}
		if err := s.Fail(ctx, job.ID, Outcome{Error: entity.NewProcessingError(constants.ErrCodeParse, "x"), FinishedAt: t0}); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("fail completed: got %v", err)
		}
	})
}

func TestStore_ScheduleRetryGuards(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		ctx := context.Background()

		permanent := newJob("bad", constants.PriorityNormal, t0)
		mustCreate(t, s, permanent)
		claimed := mustClaim(t, s, t0)
		verr := entity.NewProcessingError(constants.ErrCodeValidation, "file is empty")
		if err := s.Fail(ctx, permanent.ID, Outcome{Claim: ClaimOf(claimed), Error: verr, FinishedAt: t0}); err != nil {
			t.Fatalf("fail: %v", err)
		}
		if err := s.ScheduleRetry(ctx, permanent.ID, t0.Add(time.Second), t0); !errors.Is(err, ErrConditionNotMet) {
			t.Fatalf("retry of non-recoverable: got %v, want ErrConditionNotMet", err)
		}

		flaky := newJob("flaky", constants.PriorityNormal, t0.Add(time.Second))
		flaky.MaxRetries = 1
		mustCreate(t, s, flaky)
		now := t0.Add(time.Minute)
		claimed = mustClaim(t, s, now)
		terr := entity.NewProcessingError(constants.ErrCodeTimeout, "deadline")
		if err := s.Fail(ctx, flaky.ID, Outcome{Claim: ClaimOf(claimed), Error: terr, FinishedAt: now}); err != nil {
			t.Fatalf("fail: %v", err)
		}
		next := now.Add(2 * time.Second)
		if err := s.ScheduleRetry(ctx, flaky.ID, next, now); err != nil {
			t.Fatalf("schedule retry: %v", err)
		}
		got, _ := s.Get(ctx, flaky.ID)
		if got.Status != constants.JobStatusPending || got.RetryCount != 1 || got.NextRetryAt == nil || !got.NextRetryAt.Equal(next) {
			t.Fatalf("unexpected retried job: %+v", got)
		}

		// Not claimable before nextRetryAt.
		if _, err := s.ClaimNext(ctx, "w1", now.Add(time.Second)); !errors.Is(err, ErrNoJobAvailable) {
			t.Fatalf("claimed before nextRetryAt: %v", err)
		}
		claimed = mustClaim(t, s, next)
		if err := s.Fail(ctx, flaky.ID, Outcome{Claim: ClaimOf(claimed), Error: terr, FinishedAt: next}); err != nil {
			t.Fatalf("fail: %v", err)
		}
		if err := s.ScheduleRetry(ctx, flaky.ID, next.Add(time.Minute), next); !errors.Is(err, ErrConditionNotMet) {
			t.Fatalf("retry past budget: got %v", err)
		}
		got, _ = s.Get(ctx, flaky.ID)
		if got.RetryCount > got.MaxRetries {
			t.Fatalf("retry count %d exceeds max %d", got.RetryCount, got.MaxRetries)
		}
	})
}

func TestStore_CancelStopsClaims(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		ctx := context.Background()
		job := newJob("c", constants.PriorityHigh, t0)
		mustCreate(t, s, job)
		if err := s.Cancel(ctx, job.ID, t0); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if _, err := s.ClaimNext(ctx, "w1", t0); !errors.Is(err, ErrNoJobAvailable) {
			t.Fatalf("cancelled job was claimable: %v", err)
		}

		inflight := newJob("d", constants.PriorityNormal, t0)
		mustCreate(t, s, inflight)
		claimed := mustClaim(t, s, t0)
		if err := s.Cancel(ctx, inflight.ID, t0); err != nil {
			t.Fatalf("cancel processing: %v", err)
		}
		err := s.Complete(ctx, inflight.ID, Outcome{Claim: ClaimOf(claimed), Result: &entity.ProcessingResult{Success: true}, FinishedAt: t0})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("complete after cancel: got %v", err)
		}
		got, _ := s.Get(ctx, inflight.ID)
		if got.Status != constants.JobStatusCancelled {
			t.Fatalf("status = %s, want CANCELLED", got.Status)
		}
	})
}

func TestStore_StalledRecovery(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		ctx := context.Background()
		job := newJob("stuck", constants.PriorityNormal, t0)
		mustCreate(t, s, job)
		claimed := mustClaim(t, s, t0)
		if err := s.UpdateProgress(ctx, job.ID, ClaimOf(claimed), 40, t0); err != nil {
			t.Fatalf("progress: %v", err)
		}

		now := t0.Add(10 * time.Minute)
		cutoff := now.Add(-5 * time.Minute)
		stalled, err := s.FindStalled(ctx, cutoff)
		if err != nil || len(stalled) != 1 || stalled[0].ID != job.ID {
			t.Fatalf("find stalled = %v, %v", stalled, err)
		}
		if err := s.RecoverStalled(ctx, job.ID, cutoff, false, now); err != nil {
			t.Fatalf("recover: %v", err)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.Status != constants.JobStatusPending || got.Progress != 0 || got.StartedAt != nil || got.RetryCount != 0 {
			t.Fatalf("unexpected recovered job: %+v", got)
		}

		// A freshly claimed job is not stalled.
		mustClaim(t, s, now)
		if err := s.RecoverStalled(ctx, job.ID, cutoff, false, now); !errors.Is(err, ErrConditionNotMet) {
			t.Fatalf("recover fresh job: got %v", err)
		}
	})
}

func TestStore_RecoveredJobRejectsStaleWorker(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		ctx := context.Background()
		job := newJob("contended", constants.PriorityNormal, t0)
		mustCreate(t, s, job)

		stale, err := s.ClaimNext(ctx, "worker-a", t0)
		if err != nil {
			t.Fatalf("claim a: %v", err)
		}
		now := t0.Add(10 * time.Minute)
		if err := s.RecoverStalled(ctx, job.ID, now.Add(-5*time.Minute), false, now); err != nil {
			t.Fatalf("recover: %v", err)
		}
		current, err := s.ClaimNext(ctx, "worker-b", now)
		if err != nil {
			t.Fatalf("claim b: %v", err)
		}

		if err := s.UpdateProgress(ctx, job.ID, ClaimOf(stale), 90, now); !errors.Is(err, ErrLostClaim) {
			t.Fatalf("stale progress: got %v, want ErrLostClaim", err)
		}
		staleRes := &entity.ProcessingResult{Success: true, Text: "stale"}
		if err := s.Complete(ctx, job.ID, Outcome{Claim: ClaimOf(stale), Result: staleRes, FinishedAt: now}); !errors.Is(err, ErrLostClaim) {
			t.Fatalf("stale complete: got %v, want ErrLostClaim", err)
		}
		terr := entity.NewProcessingError(constants.ErrCodeTimeout, "late")
		if err := s.Fail(ctx, job.ID, Outcome{Claim: ClaimOf(stale), Error: terr, FinishedAt: now}); !errors.Is(err, ErrLostClaim) {
			t.Fatalf("stale fail: got %v, want ErrLostClaim", err)
		}
		got, _ := s.Get(ctx, job.ID)
		if got.Status != constants.JobStatusProcessing || got.WorkerID != "worker-b" || got.Result != nil {
			t.Fatalf("stale writes leaked into the job: %+v", got)
		}

		fresh := &entity.ProcessingResult{Success: true, Text: "fresh result"}
		if err := s.Complete(ctx, job.ID, Outcome{Claim: ClaimOf(current), Result: fresh, FinishedAt: now.Add(time.Second)}); err != nil {
			t.Fatalf("owner complete: %v", err)
		}
		got, _ = s.Get(ctx, job.ID)
		if got.Status != constants.JobStatusCompleted || got.Result == nil || got.Result.Text != "fresh result" {
			t.Fatalf("unexpected final job: %+v", got)
		}
	})
}

func TestStore_AggregatesAndCleanup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s JobStore) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			j := newJob("ok", constants.PriorityNormal, t0.Add(time.Duration(i)*time.Second))
			mustCreate(t, s, j)
			claimed := mustClaim(t, s, t0)
			if err := s.Complete(ctx, claimed.ID, Outcome{Claim: ClaimOf(claimed), Result: &entity.ProcessingResult{Success: true}, FinishedAt: t0.Add(4 * time.Second)}); err != nil {
				t.Fatalf("complete: %v", err)
			}
		}
		bad := newJob("bad", constants.PriorityNormal, t0.Add(10*time.Second))
		mustCreate(t, s, bad)
		badClaim := mustClaim(t, s, t0)
		if err := s.Fail(ctx, bad.ID, Outcome{Claim: ClaimOf(badClaim), Error: entity.NewProcessingError(constants.ErrCodeEncrypted, "locked"), FinishedAt: t0}); err != nil {
			t.Fatalf("fail: %v", err)
		}
		pending := newJob("waiting", constants.PriorityLow, t0.Add(20*time.Second))
		mustCreate(t, s, pending)

		agg, err := s.Aggregates(ctx)
		if err != nil {
			t.Fatalf("aggregates: %v", err)
		}
		if agg.Counts[constants.JobStatusCompleted] != 3 || agg.Counts[constants.JobStatusFailed] != 1 || agg.Counts[constants.JobStatusPending] != 1 {
			t.Fatalf("counts = %v", agg.Counts)
		}
		if agg.PermanentFailures != 1 {
			t.Errorf("permanent failures = %d, want 1", agg.PermanentFailures)
		}
		if agg.AverageDuration != 4*time.Second {
			t.Errorf("average duration = %v, want 4s", agg.AverageDuration)
		}
		if agg.OldestPendingAt == nil || !agg.OldestPendingAt.Equal(t0.Add(20*time.Second)) {
			t.Errorf("oldest pending = %v", agg.OldestPendingAt)
		}

		n, err := s.DeleteTerminalBefore(ctx, t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("cleanup: %v", err)
		}
		if n != 4 {
			t.Fatalf("deleted %d, want 4", n)
		}
		if _, err := s.Get(ctx, pending.ID); err != nil {
			t.Fatalf("pending job must survive cleanup: %v", err)
		}
	})
}
