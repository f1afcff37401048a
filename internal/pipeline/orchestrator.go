package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/fallback"
	"github.com/joseph-ayodele/docflow/internal/processor"
	"github.com/joseph-ayodele/docflow/internal/progress"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/retry"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

// Deps are the collaborators the orchestrator owns handles to.
type Deps struct {
	Store     repository.JobStore
	Validator *validate.Validator
	Registry  *processor.Registry
	Chain     *fallback.Chain
	Scheduler *retry.Scheduler
	Tracker   *progress.Tracker
	Breakers  *Breakers
}

// SubmitRequest is one file handed to the pipeline. DeclaredFormat is advisory.
type SubmitRequest struct {
	Data           []byte
	FileID         string
	FileName       string
	DeclaredFormat string
	Options        entity.ProcessingOptions
	// OnProgress, when set, is registered with the tracker for this job.
	OnProgress entity.ProgressCallback
}

// Orchestrator is the only component that turns processing outcomes into
// job state transitions.
type Orchestrator struct {
	store     repository.JobStore
	validator *validate.Validator
	registry  *processor.Registry
	chain     *fallback.Chain
	scheduler *retry.Scheduler
	tracker   *progress.Tracker
	breakers  *Breakers
	cfg       Config
	now       func() time.Time
	workerID  string
	logger    *slog.Logger

	events        chan entity.Event
	droppedEvents atomic.Int64
	eventsMu      sync.RWMutex
	eventsClosed  bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	mu       sync.Mutex
	started  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithWorkerID sets the prefix recorded on claimed jobs.
func WithWorkerID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.workerID = id
		}
	}
}

func New(deps Deps, cfg Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if deps.Store == nil || deps.Validator == nil || deps.Registry == nil {
		return nil, common.NewAppError("CONFIG_ERROR", "store, validator and registry are required", common.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if deps.Chain == nil {
		deps.Chain = fallback.NewChain(fallback.DefaultMinTextLength, logger)
	}
	if deps.Scheduler == nil {
		deps.Scheduler = retry.NewScheduler(deps.Store, nil, logger)
	}
	if deps.Tracker == nil {
		deps.Tracker = progress.NewTracker(30*time.Second, logger)
	}
	if deps.Breakers == nil {
		deps.Breakers = NewBreakers(DefaultBreakerSettings(), logger)
	}

	o := &Orchestrator{
		store:     deps.Store,
		validator: deps.Validator,
		registry:  deps.Registry,
		chain:     deps.Chain,
		scheduler: deps.Scheduler,
		tracker:   deps.Tracker,
		breakers:  deps.Breakers,
		cfg:       cfg,
		now:       time.Now,
		workerID:  defaultWorkerID(),
		logger:    logger,
		events:    make(chan entity.Event, cfg.EventBuffer),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "docflow"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Events is the outbound lifecycle stream. It is closed by Shutdown.
func (o *Orchestrator) Events() <-chan entity.Event { return o.events }

// DroppedEvents counts events discarded because the buffer was full.
func (o *Orchestrator) DroppedEvents() int64 { return o.droppedEvents.Load() }

// Tracker exposes the progress tracker so callers can subscribe.
func (o *Orchestrator) Tracker() *progress.Tracker { return o.tracker }

// Breakers exposes the per-format circuit breakers.
func (o *Orchestrator) Breakers() *Breakers { return o.breakers }

// emit never blocks processing; a full buffer drops the event.
func (o *Orchestrator) emit(t entity.EventType, id uuid.UUID, payload map[string]any) {
	ev := entity.Event{Type: t, JobID: id, Timestamp: o.now(), Payload: payload}
	o.eventsMu.RLock()
	defer o.eventsMu.RUnlock()
	if o.eventsClosed {
		return
	}
	select {
	case o.events <- ev:
	default:
		n := o.droppedEvents.Add(1)
		o.logger.Warn("event buffer full, dropping event", "job_id", id, "event", t, "dropped_total", n)
	}
}

func (o *Orchestrator) closeEvents() {
	o.eventsMu.Lock()
	defer o.eventsMu.Unlock()
	if !o.eventsClosed {
		o.eventsClosed = true
		close(o.events)
	}
}

func (o *Orchestrator) notify() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Submit validates the input and records a job. The job id is returned at once;
// processing is asynchronous. Input that fails validation is recorded as a
// FAILED job with a non-recoverable error so the caller can still inspect it.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	v := common.NewValidator().
		Field("file_id", req.FileID, common.Required, common.MaxLen(255)).
		Field("file_name", req.FileName, common.MaxLen(255)).
		Field("priority", string(req.Options.Priority), common.OneOf("",
			string(constants.PriorityLow), string(constants.PriorityNormal), string(constants.PriorityHigh)))
	if req.FileName != "" {
		v.Field("file_name", req.FileName, common.FileName)
	}
	if req.Options.MaxRetries != nil {
		v.Field("max_retries", *req.Options.MaxRetries, common.NonNegative)
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		return uuid.Nil, err
	}

	now := o.now()
	opts := req.Options.Clone()
	if opts.Priority == "" {
		opts.Priority = constants.PriorityNormal
	}
	maxRetries := o.cfg.DefaultMaxRetries
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		maxRetries = *opts.MaxRetries
	}

	verdict := o.validator.Validate(req.Data, req.FileName, req.DeclaredFormat)
	job := &entity.ProcessingJob{
		ID:                uuid.New(),
		FileID:            req.FileID,
		FileName:          req.FileName,
		FileSize:          int64(len(req.Data)),
		DeclaredFormat:    req.DeclaredFormat,
		DetectedFormat:    verdict.DetectedFormat,
		Status:            constants.JobStatusPending,
		Priority:          opts.Priority,
		MaxRetries:        maxRetries,
		CreatedAt:         now,
		EstimatedDuration: EstimateDuration(int64(len(req.Data)), verdict.DetectedFormat),
		Options:           opts,
	}
	content := req.Data
	if !verdict.IsValid {
		done := now
		job.Status = constants.JobStatusFailed
		job.Error = o.validationError(verdict)
		job.CompletedAt = &done
		content = nil
	}

	if err := o.store.Create(ctx, job, content); err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}
	if req.OnProgress != nil && verdict.IsValid {
		o.tracker.Register(job.ID, req.OnProgress)
	}

	o.emit(entity.EventCreated, job.ID, map[string]any{
		"file_id":   job.FileID,
		"file_name": job.FileName,
		"format":    string(job.DetectedFormat),
		"priority":  string(job.Priority),
		"size":      job.FileSize,
	})
	if !verdict.IsValid {
		o.logger.Info("job rejected at submission", "job_id", job.ID, "file_name", job.FileName, "errors", verdict.Errors)
		o.emit(entity.EventFailed, job.ID, failurePayload(job.Error, false, nil))
		return job.ID, nil
	}

	o.logger.Info("job submitted",
		"job_id", job.ID,
		"file_id", job.FileID,
		"format", job.DetectedFormat,
		"priority", job.Priority,
		"estimated_duration", job.EstimatedDuration,
	)
	o.notify()
	return job.ID, nil
}

func (o *Orchestrator) validationError(v entity.FileValidationResult) *entity.ProcessingError {
	code := constants.ErrCodeValidation
	switch {
	case v.Encrypted:
		code = constants.ErrCodeEncrypted
	case v.DetectedFormat != constants.FormatUnknown:
		if _, ok := o.registry.Lookup(v.DetectedFormat); !ok {
			code = constants.ErrCodeUnsupported
		}
	}
	return &entity.ProcessingError{
		Code:        code,
		Message:     strings.Join(v.Errors, "; "),
		Recoverable: false,
		Details:     v.Findings(),
	}
}

// Status merges the durable job with its live progress stage.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (entity.JobView, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return entity.JobView{}, common.NewAppError("JOB_NOT_FOUND", id.String(), common.ErrNotFound)
		}
		return entity.JobView{}, fmt.Errorf("get job: %w", err)
	}
	return o.view(job), nil
}

// List returns job views, newest first, optionally filtered by status.
func (o *Orchestrator) List(ctx context.Context, filter repository.ListFilter) ([]entity.JobView, error) {
	jobs, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]entity.JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, o.view(j))
	}
	return out, nil
}

func (o *Orchestrator) view(job *entity.ProcessingJob) entity.JobView {
	view := entity.JobView{
		ID:          job.ID,
		FileID:      job.FileID,
		FileName:    job.FileName,
		Status:      job.Status,
		Progress:    job.Progress,
		RetryCount:  job.RetryCount,
		MaxRetries:  job.MaxRetries,
		NextRetryAt: job.NextRetryAt,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.Status == constants.JobStatusProcessing {
		if u, ok := o.tracker.Get(job.ID); ok {
			view.Stage = u.Stage
			if u.Percent > view.Progress {
				view.Progress = u.Percent
			}
		}
	}
	if job.IsTerminal() || job.Status == constants.JobStatusFailed {
		view.Result = job.Result
		view.Error = job.Error
	}
	return view
}

// Cancel moves a PENDING or PROCESSING job to CANCELLED. An in-flight attempt
// finishes its current processor call and then observes the cancellation.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	err := o.store.Cancel(ctx, id, o.now())
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		return common.NewAppError("JOB_NOT_FOUND", id.String(), common.ErrNotFound)
	case errors.Is(err, repository.ErrInvalidTransition):
		return common.NewAppError("JOB_NOT_CANCELLABLE", err.Error(), common.ErrConflict)
	default:
		return fmt.Errorf("cancel job: %w", err)
	}
	o.logger.Info("job cancelled", "job_id", id)
	o.emit(entity.EventCancelled, id, nil)
	o.tracker.ClearAfter(id)
	return nil
}

// OnRecovered reports a job the monitor took back from a stalled worker.
func (o *Orchestrator) OnRecovered(job *entity.ProcessingJob) {
	if job.Status == constants.JobStatusFailed {
		o.emit(entity.EventFailed, job.ID, failurePayload(job.Error, false, nil))
		o.tracker.ClearAfter(job.ID)
		return
	}
	o.emit(entity.EventRecovered, job.ID, map[string]any{"retry_count": job.RetryCount})
	o.tracker.Reset(job.ID)
	o.notify()
}

func failurePayload(perr *entity.ProcessingError, willRetry bool, next *time.Time) map[string]any {
	p := map[string]any{"will_retry": willRetry}
	if perr != nil {
		p["code"] = string(perr.Code)
		p["message"] = perr.Message
		p["recoverable"] = perr.Recoverable
	}
	if next != nil {
		p["next_retry_at"] = next.UTC().Format(time.RFC3339Nano)
	}
	return p
}
