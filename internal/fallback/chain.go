// Package fallback walks alternate extraction strategies when a primary
// processor fails or returns too little text.
package fallback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// DefaultMinTextLength is the rune count below which a successful result is
// treated as suspiciously empty.
const DefaultMinTextLength = 10

// Strategy is one alternate way of getting text out of an input.
type Strategy interface {
	Name() string
	// CanHandle decides from the triggering error whether the strategy is worth running.
	CanHandle(err *entity.ProcessingError, format constants.Format) bool
	Execute(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult
}

// Chain holds strategies in registration order.
type Chain struct {
	strategies []Strategy
	minText    int
	logger     *slog.Logger
}

func NewChain(minText int, logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	if minText <= 0 {
		minText = DefaultMinTextLength
	}
	return &Chain{strategies: strategies, minText: minText, logger: logger}
}

// Strategies returns the registered strategy names in order.
func (c *Chain) Strategies() []string {
	out := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		out[i] = s.Name()
	}
	return out
}

// MinTextLength is the acceptance threshold in runes.
func (c *Chain) MinTextLength() int { return c.minText }

// Acceptable reports a success carrying at least the minimum amount of text.
func (c *Chain) Acceptable(res entity.ProcessingResult) bool {
	return res.Success && res.TextLength() >= c.minText
}

// Trigger is the error that starts the walk: the primary's own error, or an
// EMPTY_CONTENT error for a low-content success. Nil means primary is acceptable.
func (c *Chain) Trigger(primary entity.ProcessingResult) *entity.ProcessingError {
	if c.Acceptable(primary) {
		return nil
	}
	if primary.Error != nil {
		return primary.Error
	}
	if primary.Success {
		return entity.NewProcessingError(constants.ErrCodeEmptyContent,
			"extracted %d characters, below the %d character threshold", primary.TextLength(), c.minText)
	}
	return entity.NewProcessingError(constants.ErrCodeInternal, "primary processor returned no result")
}

// Recover runs handling strategies in order until one is acceptable and returns
// the best result seen, primary included: a success beats a failure, otherwise
// strictly more text wins and ties keep the earlier result.
func (c *Chain) Recover(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions, primary entity.ProcessingResult) entity.ProcessingResult {
	attempts := []string{primary.Source}
	trigger := c.Trigger(primary)
	if trigger == nil {
		primary.Attempts = attempts
		return primary
	}

	best := primary
	log := c.logger.With("file_name", in.FileName, "format", in.Format, "trigger", trigger.Code)
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			break
		}
		if !s.CanHandle(trigger, in.Format) {
			continue
		}
		res := c.execute(ctx, s, in, opts)
		attempts = append(attempts, s.Name())
		log.Debug("fallback strategy finished", "strategy", s.Name(), "success", res.Success, "chars", res.TextLength())
		if Better(res, best) {
			best = res
		}
		if c.Acceptable(res) {
			break
		}
	}

	best.Attempts = attempts
	if best.Source != primary.Source {
		best.Warnings = append(append([]string(nil), best.Warnings...), fmt.Sprintf("%s result not acceptable (%s); used %s", primary.Source, trigger.Message, best.Source))
		log.Info("fallback result selected", "source", best.Source, "chars", best.TextLength(), "attempts", attempts)
	}
	return best
}

// execute shields the chain from a panicking strategy.
func (c *Chain) execute(ctx context.Context, s Strategy, in entity.FileInput, opts entity.ProcessingOptions) (res entity.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("fallback strategy panicked", "strategy", s.Name(), "panic", r)
			res = entity.Failed(s.Name(), entity.NewProcessingError(constants.ErrCodeInternal, "strategy %s panicked: %v", s.Name(), r))
		}
	}()
	res = s.Execute(ctx, in, opts)
	if res.Source == "" {
		res.Source = s.Name()
	}
	return res
}

// Better reports whether a should replace b.
func Better(a, b entity.ProcessingResult) bool {
	if a.Success != b.Success {
		return a.Success
	}
	return a.TextLength() > b.TextLength()
}

// contentFailure is the trigger class the content-salvaging strategies engage on:
// recoverable and caused by the document rather than the environment.
func contentFailure(err *entity.ProcessingError) bool {
	return err != nil && err.Recoverable && !err.Code.IsTransient()
}
