package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
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
	"github.com/joseph-ayodele/docflow/internal/testutil"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	orch  *Orchestrator
	store *repository.MemJobStore
	clock *fakeClock
}

func newHarness(t *testing.T, cfg Config, procs ...processor.Processor) *harness {
	t.Helper()
	return newHarnessWithTracker(t, cfg, progress.NewTracker(time.Minute, nil), procs...)
}

func newHarnessWithTracker(t *testing.T, cfg Config, tracker *progress.Tracker, procs ...processor.Processor) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := repository.NewMemJobStore()
	registry := processor.NewDefaultRegistry(nil)
	for _, p := range procs {
		registry.Register(p)
	}
	policy := retry.DefaultPolicy().WithRand(func() float64 { return 0.5 })
	orch, err := New(Deps{
		Store:     store,
		Validator: validate.New(validate.Config{MaxFileSize: 10 << 20, SupportedFormats: constants.FileTypes}, nil),
		Registry:  registry,
		Chain:     fallback.NewDefaultChain(10, registry, nil, false, time.Second, nil),
		Scheduler: retry.NewScheduler(store, policy, nil, retry.WithClock(clock.Now)),
		Tracker:   tracker,
		Breakers:  NewBreakers(BreakerSettings{ConsecutiveFailures: 100, OpenTimeout: time.Minute}, nil),
	}, cfg, nil, WithClock(clock.Now), WithWorkerID("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{orch: orch, store: store, clock: clock}
}

func (h *harness) job(t *testing.T, id uuid.UUID) *entity.ProcessingJob {
	t.Helper()
	j, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return j
}

func drain(ch <-chan entity.Event) []entity.EventType {
	var out []entity.EventType
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func hasEvent(events []entity.EventType, want entity.EventType) bool {
	for _, e := range events {
		if e == want {
			return true
		}
	}
	return false
}

func TestSubmit_EmptyPDFFailsImmediately(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	id, err := h.orch.Submit(ctx, SubmitRequest{FileID: "f-1", FileName: "empty.pdf", DeclaredFormat: "application/pdf"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := h.job(t, id)
	if job.Status != constants.JobStatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Error == nil || job.Error.Recoverable || job.Error.Code != constants.ErrCodeValidation {
		t.Fatalf("error = %+v", job.Error)
	}
	if job.NextRetryAt != nil {
		t.Fatalf("validation failures must not be retried")
	}
	details := strings.Join(job.Error.Details, "\n")
	if !strings.Contains(details, "empty") || !strings.Contains(details, "invalid header") {
		t.Fatalf("details = %q", details)
	}
	if worked, _ := h.orch.ProcessNext(ctx); worked {
		t.Fatalf("a rejected job was claimed")
	}
	events := drain(h.orch.Events())
	if !hasEvent(events, entity.EventCreated) || !hasEvent(events, entity.EventFailed) {
		t.Fatalf("events = %v", events)
	}
}

func TestSubmit_RejectsBadRequest(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if _, err := h.orch.Submit(context.Background(), SubmitRequest{FileName: "a.txt", Data: []byte("hello")}); err == nil {
		t.Fatalf("missing file id accepted")
	}
	if _, err := h.orch.Submit(context.Background(), SubmitRequest{FileID: "x", FileName: "../a.txt", Data: []byte("hello")}); err == nil {
		t.Fatalf("path in file name accepted")
	}
	urgent := entity.ProcessingOptions{Priority: "urgent"}
	if _, err := h.orch.Submit(context.Background(), SubmitRequest{FileID: "x", FileName: "a.txt", Data: []byte("hello"), Options: urgent}); err == nil {
		t.Fatalf("unknown priority accepted")
	}
	negative := -1
	_, err := h.orch.Submit(context.Background(), SubmitRequest{FileID: "x", FileName: "a.txt", Data: []byte("hello"),
		Options: entity.ProcessingOptions{MaxRetries: &negative}})
	if !errors.Is(err, common.ErrInvalidInput) || !strings.Contains(err.Error(), "max_retries") {
		t.Fatalf("negative max retries: %v", err)
	}
}

func TestProcess_HelloWorldPDF(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	var stages []string
	var mu sync.Mutex

	id, err := h.orch.Submit(ctx, SubmitRequest{
		Data:     testutil.BuildPDF(testutil.PDFInfo{Title: "Greeting"}, "Hello World"),
		FileID:   "f-2",
		FileName: "hello.pdf",
		OnProgress: func(u entity.ProgressUpdate) error {
			mu.Lock()
			defer mu.Unlock()
			stages = append(stages, u.Stage)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if job := h.job(t, id); job.EstimatedDuration <= 0 || job.Status != constants.JobStatusPending {
		t.Fatalf("submitted job = %+v", job)
	}

	worked, err := h.orch.ProcessNext(ctx)
	if err != nil || !worked {
		t.Fatalf("ProcessNext = %v, %v", worked, err)
	}
	job := h.job(t, id)
	if job.Status != constants.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("status=%s progress=%d", job.Status, job.Progress)
	}
	if job.Result == nil || !strings.Contains(job.Result.Text, "Hello World") {
		t.Fatalf("result = %+v", job.Result)
	}
	if job.DetectedFormat != constants.FormatPDF || job.Result.Source != "PDF" {
		t.Fatalf("format=%s source=%s", job.DetectedFormat, job.Result.Source)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("timing not recorded")
	}

	h.orch.Tracker().Wait()
	mu.Lock()
	got := strings.Join(stages, ",")
	mu.Unlock()
	if !strings.HasPrefix(got, constants.StageValidate) || !strings.HasSuffix(got, constants.StageComplete) {
		t.Fatalf("stages = %s", got)
	}

	events := drain(h.orch.Events())
	for _, want := range []entity.EventType{entity.EventCreated, entity.EventStarted, entity.EventProgress, entity.EventCompleted} {
		if !hasEvent(events, want) {
			t.Fatalf("missing %s in %v", want, events)
		}
	}

	view, err := h.orch.Status(ctx, id)
	if err != nil || view.Status != constants.JobStatusCompleted || view.Result == nil {
		t.Fatalf("Status = %+v, %v", view, err)
	}
}

// shortPDF returns almost nothing, as an image-only page would.
type shortPDF struct{ *processor.PDFProcessor }

func (shortPDF) Process(context.Context, entity.FileInput, entity.ProcessingOptions) entity.ProcessingResult {
	return entity.ProcessingResult{Success: true, Text: "ab", Source: "PDF"}
}

func TestProcess_LowContentFallsBackToBinaryText(t *testing.T) {
	h := newHarness(t, DefaultConfig(), shortPDF{processor.NewPDFProcessor(nil)})
	ctx := context.Background()
	fifty := strings.Repeat("Lorem ipsu", 5)

	id, err := h.orch.Submit(ctx, SubmitRequest{Data: testutil.BuildPDF(testutil.PDFInfo{}, fifty), FileID: "f-3", FileName: "scan.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}
	job := h.job(t, id)
	if job.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Result.TextLength() != 50 || job.Result.Text != fifty {
		t.Fatalf("text = %q", job.Result.Text)
	}
	if job.Result.Source != "binary-text" {
		t.Fatalf("source = %s", job.Result.Source)
	}
	if len(job.Result.Attempts) < 2 || job.Result.Attempts[0] != "PDF" {
		t.Fatalf("attempts = %v", job.Result.Attempts)
	}
}

// flakyText always fails with an environment error.
type flakyText struct {
	*processor.TextProcessor
	calls atomic.Int32
}

func (f *flakyText) Process(context.Context, entity.FileInput, entity.ProcessingOptions) entity.ProcessingResult {
	f.calls.Add(1)
	return entity.Failed("TXT", entity.NewProcessingError(constants.ErrCodeIO, "storage unavailable"))
}

func TestProcess_TransientFailuresRetryThenStop(t *testing.T) {
	flaky := &flakyText{TextProcessor: processor.NewTextProcessor(nil)}
	h := newHarness(t, DefaultConfig(), flaky)
	ctx := context.Background()
	three := 3

	id, err := h.orch.Submit(ctx, SubmitRequest{
		Data:     []byte("plain text that will never be read"),
		FileID:   "f-4",
		FileName: "notes.txt",
		Options:  entity.ProcessingOptions{MaxRetries: &three},
	})
	if err != nil {
		t.Fatal(err)
	}

	var gaps []time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		worked, err := h.orch.ProcessNext(ctx)
		if err != nil || !worked {
			t.Fatalf("attempt %d: ProcessNext = %v, %v", attempt, worked, err)
		}
		job := h.job(t, id)
		if job.RetryCount > job.MaxRetries {
			t.Fatalf("retry count %d exceeds max %d", job.RetryCount, job.MaxRetries)
		}
		if attempt < 4 {
			if job.Status != constants.JobStatusPending || job.RetryCount != attempt || job.NextRetryAt == nil {
				t.Fatalf("attempt %d: status=%s retry=%d next=%v", attempt, job.Status, job.RetryCount, job.NextRetryAt)
			}
			gaps = append(gaps, job.NextRetryAt.Sub(h.clock.Now()))
			if worked, _ := h.orch.ProcessNext(ctx); worked {
				t.Fatalf("attempt %d: job claimed before nextRetryAt", attempt)
			}
			h.clock.Set(*job.NextRetryAt)
			continue
		}
		if job.Status != constants.JobStatusFailed || job.NextRetryAt != nil {
			t.Fatalf("final: status=%s next=%v", job.Status, job.NextRetryAt)
		}
		if !job.IsTerminal() || job.Error.Code != constants.ErrCodeIO || !job.Error.Recoverable {
			t.Fatalf("final error = %+v", job.Error)
		}
	}
	for i := 1; i < len(gaps); i++ {
		if gaps[i] <= gaps[i-1] {
			t.Fatalf("retry gaps not increasing: %v", gaps)
		}
	}
	if worked, _ := h.orch.ProcessNext(ctx); worked {
		t.Fatalf("permanently failed job claimed again")
	}
	// primary plus the relaxed re-run, per attempt
	if got := flaky.calls.Load(); got != 8 {
		t.Fatalf("processor called %d times", got)
	}
}

func TestProcess_SubscriberFollowsRetries(t *testing.T) {
	flaky := &flakyText{TextProcessor: processor.NewTextProcessor(nil)}
	tracker := progress.NewTracker(0, nil)
	h := newHarnessWithTracker(t, DefaultConfig(), tracker, flaky)
	ctx := context.Background()
	one := 1

	var (
		mu        sync.Mutex
		validates int
	)
	id, err := h.orch.Submit(ctx, SubmitRequest{
		Data:     []byte("plain text that will never be read"),
		FileID:   "f-retry",
		FileName: "notes.txt",
		Options:  entity.ProcessingOptions{MaxRetries: &one},
		OnProgress: func(u entity.ProgressUpdate) error {
			if u.Stage == constants.StageValidate {
				mu.Lock()
				validates++
				mu.Unlock()
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}
	job := h.job(t, id)
	if job.Status != constants.JobStatusPending || job.NextRetryAt == nil {
		t.Fatalf("first attempt: status=%s", job.Status)
	}
	h.clock.Set(*job.NextRetryAt)
	if worked, err := h.orch.ProcessNext(ctx); err != nil || !worked {
		t.Fatalf("second attempt: %v %v", worked, err)
	}
	tracker.Wait()

	mu.Lock()
	defer mu.Unlock()
	if validates != 2 {
		t.Fatalf("subscriber saw %d attempts, want 2", validates)
	}
	if !h.job(t, id).IsTerminal() || tracker.Len() != 0 {
		t.Fatalf("terminal job still tracked: %d", tracker.Len())
	}
}

// hijacked loses its claim mid-run: the job is recovered and re-claimed by
// another worker before this attempt writes its outcome.
type hijacked struct {
	*processor.TextProcessor
	store *repository.MemJobStore
	clock *fakeClock
	id    uuid.UUID
}

func (h *hijacked) Process(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult {
	now := h.clock.Now()
	if err := h.store.RecoverStalled(ctx, h.id, now.Add(time.Second), false, now); err != nil {
		panic(err)
	}
	if _, err := h.store.ClaimNext(ctx, "other-worker", now); err != nil {
		panic(err)
	}
	return h.TextProcessor.Process(ctx, in, opts)
}

func TestProcess_StaleWorkerResultIsDiscarded(t *testing.T) {
	proc := &hijacked{TextProcessor: processor.NewTextProcessor(nil)}
	h := newHarness(t, DefaultConfig(), proc)
	proc.store, proc.clock = h.store, h.clock
	ctx := context.Background()

	id, err := h.orch.Submit(ctx, SubmitRequest{Data: []byte("text read by the stale worker"), FileID: "f-stale", FileName: "a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	proc.id = id
	drain(h.orch.Events())
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	job := h.job(t, id)
	if job.Status != constants.JobStatusProcessing || job.WorkerID != "other-worker" || job.Result != nil {
		t.Fatalf("stale outcome landed: status=%s worker=%s result=%+v", job.Status, job.WorkerID, job.Result)
	}
	if events := drain(h.orch.Events()); hasEvent(events, entity.EventCompleted) {
		t.Fatalf("completion emitted for a lost claim: %v", events)
	}
}

// warnedPDF succeeds with a warning of its own.
type warnedPDF struct{ *processor.PDFProcessor }

func (warnedPDF) Process(context.Context, entity.FileInput, entity.ProcessingOptions) entity.ProcessingResult {
	return entity.ProcessingResult{Success: true, Text: "Hello World from a damaged trailer", Source: "PDF",
		Warnings: []string{"font fallback"}}
}

func TestProcess_ValidatorWarningsCarryIntoResult(t *testing.T) {
	h := newHarness(t, DefaultConfig(), warnedPDF{processor.NewPDFProcessor(nil)})
	ctx := context.Background()
	data := testutil.BuildPDF(testutil.PDFInfo{}, "Hello World")
	data = data[:bytes.LastIndex(data, []byte("%%EOF"))]

	id, err := h.orch.Submit(ctx, SubmitRequest{Data: data, FileID: "f-warn", FileName: "trailer.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}
	job := h.job(t, id)
	if job.Status != constants.JobStatusCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	want := "missing %%EOF trailer marker,font fallback"
	if got := strings.Join(job.Result.Warnings, ","); got != want {
		t.Fatalf("warnings = %q, want %q", got, want)
	}
}

func TestProcess_CorruptInputUsesMinimalResult(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	data := append([]byte("%PDF-1.4\n"), make([]byte, 64)...)
	data = append(data, []byte("\n%%EOF\n")...)

	id, err := h.orch.Submit(ctx, SubmitRequest{Data: data, FileID: "f-5", FileName: "broken.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatal(err)
	}
	job := h.job(t, id)
	if job.Status != constants.JobStatusCompleted || job.Result.Source != "minimal" {
		t.Fatalf("status=%s result=%+v", job.Status, job.Result)
	}
	if job.Result.Metadata.FileSize != int64(len(data)) {
		t.Fatalf("metadata = %+v", job.Result.Metadata)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	id, err := h.orch.Submit(ctx, SubmitRequest{Data: []byte("some text to read"), FileID: "f-6", FileName: "a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if worked, _ := h.orch.ProcessNext(ctx); worked {
		t.Fatalf("cancelled job was claimed")
	}
	if err := h.orch.Cancel(ctx, id); err == nil {
		t.Fatalf("second cancel should be rejected")
	}
	if err := h.orch.Cancel(ctx, uuid.New()); err == nil {
		t.Fatalf("unknown job cancelled")
	}
	if _, err := h.orch.Status(ctx, uuid.New()); err == nil {
		t.Fatalf("unknown job has a status")
	}
}

// cancelling cancels its own job mid-processing.
type cancelling struct {
	*processor.TextProcessor
	orch *Orchestrator
	id   uuid.UUID
}

func (c *cancelling) Process(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult {
	if err := c.orch.Cancel(ctx, c.id); err != nil {
		panic(err)
	}
	return c.TextProcessor.Process(ctx, in, opts)
}

func TestCancel_InFlightJobKeepsCancelled(t *testing.T) {
	proc := &cancelling{TextProcessor: processor.NewTextProcessor(nil)}
	h := newHarness(t, DefaultConfig(), proc)
	proc.orch = h.orch
	ctx := context.Background()

	id, err := h.orch.Submit(ctx, SubmitRequest{Data: []byte("text that finishes processing"), FileID: "f-7", FileName: "a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	proc.id = id
	if _, err := h.orch.ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if job := h.job(t, id); job.Status != constants.JobStatusCancelled || job.Result != nil {
		t.Fatalf("job = %s %+v", job.Status, job.Result)
	}
}

// countingText records how often each file is processed.
type countingText struct {
	*processor.TextProcessor
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingText) Process(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult {
	c.mu.Lock()
	c.calls[in.FileName]++
	c.mu.Unlock()
	return c.TextProcessor.Process(ctx, in, opts)
}

func TestWorkers_ProcessEachJobOnce(t *testing.T) {
	counter := &countingText{TextProcessor: processor.NewTextProcessor(nil), calls: map[string]int{}}
	cfg := DefaultConfig()
	cfg.MaxConcurrentJobs = 4
	cfg.PollInterval = 5 * time.Millisecond
	h := newHarness(t, cfg, counter)
	ctx := context.Background()

	const n = 24
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id, err := h.orch.Submit(ctx, SubmitRequest{
			Data:     []byte("enough plain text to be accepted"),
			FileID:   uuid.NewString(),
			FileName: uuid.NewString() + ".txt",
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	h.orch.Start(ctx)
	deadline := time.Now().Add(5 * time.Second)
	for {
		done := 0
		for _, id := range ids {
			if h.job(t, id).Status == constants.JobStatusCompleted {
				done++
			}
		}
		if done == n {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d jobs completed", done, n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.orch.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	counter.mu.Lock()
	defer counter.mu.Unlock()
	if len(counter.calls) != n {
		t.Fatalf("processed %d distinct files", len(counter.calls))
	}
	for name, c := range counter.calls {
		if c != 1 {
			t.Fatalf("%s processed %d times", name, c)
		}
	}
	for range h.orch.Events() {
	}
}

func TestEvents_FullBufferDrops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventBuffer = 1
	h := newHarness(t, cfg)
	for i := 0; i < 3; i++ {
		if _, err := h.orch.Submit(context.Background(), SubmitRequest{Data: []byte("hello there world"), FileID: "f", FileName: "a.txt"}); err != nil {
			t.Fatal(err)
		}
	}
	if h.orch.DroppedEvents() != 2 {
		t.Fatalf("dropped = %d", h.orch.DroppedEvents())
	}
}

func TestBreakers(t *testing.T) {
	b := NewBreakers(BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1}, nil)
	calls := 0
	parse := func() entity.ProcessingResult {
		calls++
		return entity.Failed("PDF", entity.NewProcessingError(constants.ErrCodeParse, "bad"))
	}
	for i := 0; i < 5; i++ {
		b.Run(constants.FormatPDF, parse)
	}
	if calls != 5 || b.State(constants.FormatPDF) != "closed" {
		t.Fatalf("content failures tripped the breaker: calls=%d state=%s", calls, b.State(constants.FormatPDF))
	}

	timeout := func() entity.ProcessingResult {
		calls++
		return entity.Failed("DOCX", entity.NewProcessingError(constants.ErrCodeTimeout, "slow"))
	}
	calls = 0
	b.Run(constants.FormatDOCX, timeout)
	b.Run(constants.FormatDOCX, timeout)
	res := b.Run(constants.FormatDOCX, timeout)
	if calls != 2 || res.Error == nil || res.Error.Code != constants.ErrCodeCircuitOpen {
		t.Fatalf("calls=%d res=%+v", calls, res)
	}
	if !res.Error.Transient() {
		t.Fatalf("open circuit should be retried later")
	}
	if b.State(constants.FormatPDF) != "closed" {
		t.Fatalf("breakers are per format")
	}
}

func TestEstimateDuration(t *testing.T) {
	small := EstimateDuration(1<<10, constants.FormatPDF)
	large := EstimateDuration(10<<20, constants.FormatPDF)
	if small <= 0 || large <= small {
		t.Fatalf("small=%s large=%s", small, large)
	}
	if EstimateDuration(1<<20, constants.FormatTXT) >= EstimateDuration(1<<20, constants.FormatPDF) {
		t.Fatalf("text should be cheaper than pdf")
	}
}
