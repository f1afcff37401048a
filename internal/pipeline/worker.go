package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/processor"
	"github.com/joseph-ayodele/docflow/internal/progress"
	"github.com/joseph-ayodele/docflow/internal/repository"
)

// Start launches MaxConcurrentJobs workers that claim and process jobs until
// Shutdown. Calling Start twice is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true

	// Processing runs on its own context so Shutdown can let in-flight jobs finish.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	for i := 0; i < o.cfg.MaxConcurrentJobs; i++ {
		o.wg.Add(1)
		go o.worker(procCtx, fmt.Sprintf("%s-w%d", o.workerID, i+1))
	}
	o.logger.Info("pipeline started", "workers", o.cfg.MaxConcurrentJobs, "poll_interval", o.cfg.PollInterval)
}

func (o *Orchestrator) worker(ctx context.Context, workerID string) {
	defer o.wg.Done()
	o.logger.Info("worker started", "worker_id", workerID)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			o.logger.Info("worker stopped", "worker_id", workerID)
			return
		default:
		}

		worked, err := o.processNext(ctx, workerID)
		if err != nil {
			o.logger.Error("worker iteration failed", "worker_id", workerID, "error", err)
		}
		if worked {
			continue
		}
		select {
		case <-o.stop:
			o.logger.Info("worker stopped", "worker_id", workerID)
			return
		case <-o.wake:
		case <-ticker.C:
		}
	}
}

// Shutdown stops claiming, waits for in-flight jobs until ctx is done, then
// closes the event stream. Jobs cut off by ctx stay PROCESSING and are
// recovered by the monitor.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stop) })

	done := make(chan struct{})
	go func() { defer close(done); o.wg.Wait() }()

	var err error
	select {
	case <-done:
		o.logger.Info("pipeline drained, shutdown complete")
	case <-ctx.Done():
		o.logger.Warn("shutdown interrupted by context, abandoning in-flight jobs")
		err = ctx.Err()
	}
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	if err == nil {
		o.closeEvents()
	}
	o.tracker.Wait()
	return err
}

// ProcessNext claims and processes one job. It reports false when nothing was
// claimable.
func (o *Orchestrator) ProcessNext(ctx context.Context) (bool, error) {
	return o.processNext(ctx, o.workerID)
}

func (o *Orchestrator) processNext(ctx context.Context, workerID string) (bool, error) {
	job, err := o.store.ClaimNext(ctx, workerID, o.now())
	if errors.Is(err, repository.ErrNoJobAvailable) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	ctx = common.WithWorkerID(common.WithJobID(ctx, job.ID.String()), workerID)
	return true, o.process(ctx, job)
}

func (o *Orchestrator) process(ctx context.Context, job *entity.ProcessingJob) error {
	log := common.LoggerFromContext(ctx, o.logger)
	log.Info("job started", "file_name", job.FileName, "attempt", job.RetryCount+1, "priority", job.Priority)
	o.emit(entity.EventStarted, job.ID, map[string]any{
		"worker_id": job.WorkerID,
		"attempt":   job.RetryCount + 1,
	})

	claim := repository.ClaimOf(job)
	seq := progress.NewStageSequencer(o.tracker, job.ID)
	report := func(stage string) {
		pct, ok := seq.Advance(stage)
		if !ok {
			return
		}
		err := o.store.UpdateProgress(ctx, job.ID, claim, pct, o.now())
		if err != nil && !errors.Is(err, repository.ErrConditionNotMet) && !errors.Is(err, repository.ErrLostClaim) {
			log.Warn("failed to persist progress", "stage", stage, "error", err)
		}
		o.emit(entity.EventProgress, job.ID, map[string]any{"stage": stage, "percent": pct})
	}

	report(constants.StageValidate)
	data, err := o.store.Content(ctx, job.ID)
	if err != nil {
		perr := entity.NewProcessingError(constants.ErrCodeIO, "load content: %v", err)
		return o.finish(ctx, job, entity.Failed("pipeline", perr), job.DetectedFormat)
	}

	verdict := o.validator.Validate(data, job.FileName, job.DeclaredFormat)
	if !verdict.IsValid {
		return o.finish(ctx, job, entity.Failed("validator", o.validationError(verdict)), verdict.DetectedFormat)
	}
	format := verdict.DetectedFormat
	p, ok := o.registry.Lookup(format)
	if !ok {
		perr := entity.NewProcessingError(constants.ErrCodeUnsupported, "no processor registered for %s", format)
		return o.finish(ctx, job, entity.Failed("pipeline", perr), format)
	}

	in := entity.FileInput{Data: data, FileName: job.FileName, Format: format}
	pctx := processor.WithStageReporter(ctx, report)
	primary := o.breakers.Run(format, func() entity.ProcessingResult {
		return processor.Run(pctx, p, in, job.Options, o.cfg.DefaultTimeout)
	})
	warnings := make([]string, 0, len(verdict.Warnings)+len(primary.Warnings))
	warnings = append(warnings, verdict.Warnings...)
	primary.Warnings = append(warnings, primary.Warnings...)

	res := o.chain.Recover(pctx, in, job.Options, primary)
	report(constants.StageFinalize)
	return o.finish(ctx, job, res, format)
}

// finish writes the attempt's outcome. A job cancelled or recovered meanwhile
// keeps the state the other writer gave it. Progress callbacks stay registered
// until the job is terminal.
func (o *Orchestrator) finish(ctx context.Context, job *entity.ProcessingJob, res entity.ProcessingResult, format constants.Format) error {
	log := common.LoggerFromContext(ctx, o.logger)
	now := o.now()
	claim := repository.ClaimOf(job)

	if res.Success {
		out := repository.Outcome{Claim: claim, DetectedFormat: format, Result: &res, FinishedAt: now}
		if err := o.store.Complete(ctx, job.ID, out); err != nil {
			return o.writeFailed(ctx, job, err)
		}
		o.tracker.Update(job.ID, constants.StageComplete, 100)
		o.tracker.ClearAfter(job.ID)
		log.Info("job completed",
			"source", res.Source,
			"chars", res.TextLength(),
			"attempts", res.Attempts,
			"duration", res.Duration,
		)
		o.emit(entity.EventCompleted, job.ID, map[string]any{
			"source":     res.Source,
			"characters": res.TextLength(),
			"warnings":   len(res.Warnings),
		})
		return nil
	}

	perr := res.Error
	if perr == nil {
		perr = entity.NewProcessingError(constants.ErrCodeInternal, "processing failed without an error record")
	}
	failed := res
	failed.Text = ""
	out := repository.Outcome{Claim: claim, DetectedFormat: format, Result: &failed, Error: perr, FinishedAt: now}
	if err := o.store.Fail(ctx, job.ID, out); err != nil {
		return o.writeFailed(ctx, job, err)
	}

	current, err := o.store.Get(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("reload failed job: %w", err)
	}
	next, scheduled, err := o.scheduler.ScheduleJob(ctx, current)
	if err != nil {
		log.Error("failed to schedule retry", "error", err)
	}

	var nextAt *time.Time
	if scheduled {
		nextAt = &next
		time.AfterFunc(next.Sub(now), o.notify)
	} else {
		o.tracker.ClearAfter(job.ID)
	}
	log.Warn("job attempt failed",
		"code", perr.Code,
		"recoverable", perr.Recoverable,
		"retry_count", current.RetryCount,
		"max_retries", current.MaxRetries,
		"will_retry", scheduled,
		"error", perr.Message,
	)
	o.emit(entity.EventFailed, job.ID, failurePayload(perr, scheduled, nextAt))
	if scheduled {
		o.emit(entity.EventRetryScheduled, job.ID, map[string]any{
			"retry_count":   current.RetryCount + 1,
			"next_retry_at": next.UTC().Format(time.RFC3339Nano),
		})
	}
	return nil
}

// writeFailed handles a rejected outcome write: a cancellation or a monitor
// recovery that won the race is expected, anything else is reported.
func (o *Orchestrator) writeFailed(ctx context.Context, job *entity.ProcessingJob, err error) error {
	log := common.LoggerFromContext(ctx, o.logger)
	if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrLostClaim) {
		current, gerr := o.store.Get(ctx, job.ID)
		if gerr == nil {
			log.Info("job changed hands during processing; discarding result",
				"status", current.Status, "owner", current.WorkerID)
			if current.IsTerminal() {
				o.tracker.ClearAfter(job.ID)
			}
		}
		return nil
	}
	log.Error("failed to record job outcome", "error", err)
	return fmt.Errorf("record outcome: %w", err)
}
