package fallback

import (
	"context"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/processor"
)

// relaxFactor multiplies the timeout on the relaxed attempt.
const relaxFactor = 2

// RetryAdjusted re-invokes the primary processor once with a longer timeout
// and no page limit, to rule out a resource-limit failure.
type RetryAdjusted struct {
	registry       *processor.Registry
	defaultTimeout time.Duration
}

func NewRetryAdjusted(registry *processor.Registry, defaultTimeout time.Duration) *RetryAdjusted {
	return &RetryAdjusted{registry: registry, defaultTimeout: defaultTimeout}
}

func (*RetryAdjusted) Name() string { return "retry-adjusted" }

// CanHandle engages on environment failures; an open circuit is left to the scheduler.
func (r *RetryAdjusted) CanHandle(err *entity.ProcessingError, format constants.Format) bool {
	if err == nil || !err.Transient() || err.Code == constants.ErrCodeCircuitOpen {
		return false
	}
	_, ok := r.registry.Lookup(format)
	return ok
}

// Relax widens opts for the second attempt.
func Relax(opts entity.ProcessingOptions, def time.Duration) entity.ProcessingOptions {
	relaxed := opts.Clone()
	base := opts.Timeout
	if base <= 0 {
		base = def
	}
	if base > 0 {
		relaxed.Timeout = base * relaxFactor
	}
	relaxed.MaxPages = 0
	relaxed.Relaxed = true
	return relaxed
}

func (r *RetryAdjusted) Execute(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult {
	if opts.Relaxed {
		return entity.Failed(r.Name(), entity.NewProcessingError(constants.ErrCodeTransient, "options already relaxed"))
	}
	p, ok := r.registry.Lookup(in.Format)
	if !ok {
		return entity.Failed(r.Name(), entity.NewProcessingError(constants.ErrCodeUnsupported, "no processor for %s", in.Format))
	}
	res := processor.Run(ctx, p, in, Relax(opts, r.defaultTimeout), r.defaultTimeout)
	res.Source = r.Name()
	return res
}
