// Package processor holds the per-format text extractors and the registry that
// maps a detected format to its processor.
package processor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Processor converts one binary format into plain text plus metadata.
// Process never panics on malformed input and never mutates shared state;
// failures come back as result.Error.
type Processor interface {
	Format() constants.Format
	CanProcess(in entity.FileInput, format constants.Format) bool
	Process(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult
	Validate(in entity.FileInput) entity.FileValidationResult
	ExtractMetadata(in entity.FileInput) (entity.FileMetadata, error)
}

// Registry maps formats to processors. It is filled at startup.
type Registry struct {
	mu       sync.RWMutex
	byFormat map[constants.Format]Processor
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger, procs ...Processor) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{byFormat: make(map[constants.Format]Processor), logger: logger}
	for _, p := range procs {
		r.Register(p)
	}
	return r
}

// NewDefaultRegistry registers every built-in processor whose format is in formats.
// An empty list registers all of them.
func NewDefaultRegistry(logger *slog.Logger, formats ...constants.Format) *Registry {
	all := []Processor{NewPDFProcessor(logger), NewDOCXProcessor(logger), NewXLSXProcessor(logger), NewTextProcessor(logger)}
	if len(formats) == 0 {
		return NewRegistry(logger, all...)
	}
	want := make(map[constants.Format]bool, len(formats))
	for _, f := range formats {
		want[f] = true
	}
	r := NewRegistry(logger)
	for _, p := range all {
		if want[p.Format()] {
			r.Register(p)
		}
	}
	return r
}

// Register replaces any processor already registered for p's format.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFormat[p.Format()] = p
	r.logger.Debug("processor registered", "format", p.Format())
}

// Lookup returns the processor for a detected format.
func (r *Registry) Lookup(format constants.Format) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byFormat[format]
	return p, ok
}

// Formats lists registered formats in name order.
func (r *Registry) Formats() []constants.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]constants.Format, 0, len(r.byFormat))
	for f := range r.byFormat {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type stageKey struct{}

// StageFunc receives coarse stage transitions from inside a processor.
type StageFunc func(stage string)

// WithStageReporter attaches fn so processors can report stages without knowing the tracker.
func WithStageReporter(ctx context.Context, fn StageFunc) context.Context {
	return context.WithValue(ctx, stageKey{}, fn)
}

// gatedReporter stops forwarding once closed. A processor abandoned after a
// timeout keeps running and must not report into the next stage of the job.
type gatedReporter struct {
	mu     sync.Mutex
	fn     StageFunc
	closed bool
}

func (g *gatedReporter) report(stage string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.fn(stage)
	}
}

func (g *gatedReporter) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// gateStages replaces the reporter on ctx with one that goes inert on close.
func gateStages(ctx context.Context) (context.Context, func()) {
	fn, ok := ctx.Value(stageKey{}).(StageFunc)
	if !ok || fn == nil {
		return ctx, func() {}
	}
	g := &gatedReporter{fn: fn}
	return WithStageReporter(ctx, g.report), g.close
}

// ReportStage calls the reporter attached to ctx, if any.
func ReportStage(ctx context.Context, stage string) {
	if fn, ok := ctx.Value(stageKey{}).(StageFunc); ok && fn != nil {
		fn(stage)
	}
}

// BaseMetadata is what every format knows about an input.
func BaseMetadata(in entity.FileInput, format constants.Format) entity.FileMetadata {
	return entity.FileMetadata{
		FileName: in.FileName,
		FileSize: in.Size(),
		Format:   format,
		MimeType: constants.MimeTypes[format],
	}
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func ctxError(ctx context.Context, format constants.Format) *entity.ProcessingError {
	if ctx.Err() == nil {
		return nil
	}
	return entity.NewProcessingError(constants.ErrCodeTimeout, "%s processing interrupted: %v", format, ctx.Err())
}
