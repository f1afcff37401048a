package processor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Run invokes p with the job's timeout (or def when unset), converting panics
// into PARSE_ERROR and deadline overruns into TIMEOUT. The result always
// carries Source and Duration. Stage reports from the processor stop once Run
// returns.
func Run(ctx context.Context, p Processor, in entity.FileInput, opts entity.ProcessingOptions, def time.Duration) entity.ProcessingResult {
	ctx, closeStages := gateStages(ctx)
	defer closeStages()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = def
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan entity.ProcessingResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				perr := entity.NewProcessingError(constants.ErrCodeParse, "%s processor panicked: %v", p.Format(), r)
				perr.Details = []string{string(debug.Stack())}
				done <- entity.Failed(string(p.Format()), perr)
			}
		}()
		done <- p.Process(ctx, in, opts)
	}()

	var res entity.ProcessingResult
	select {
	case res = <-done:
	case <-ctx.Done():
		// The processor is cooperative; its goroutine drains into the buffered channel.
		code := constants.ErrCodeTimeout
		msg := fmt.Sprintf("%s processing exceeded %s", p.Format(), timeout)
		if ctx.Err() == context.Canceled {
			code, msg = constants.ErrCodeTransient, fmt.Sprintf("%s processing cancelled", p.Format())
		}
		res = entity.Failed(string(p.Format()), entity.NewProcessingError(code, "%s", msg))
	}

	if res.Source == "" {
		res.Source = string(p.Format())
	}
	if res.Metadata.FileName == "" && res.Metadata.FileSize == 0 {
		res.Metadata = BaseMetadata(in, p.Format())
	}
	res.Duration = time.Since(start)
	return res
}
