package fallback

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/processor"
)

// Minimal is the last resort: a successful, empty-text result carrying whatever
// metadata can still be read, so unparseable input ends in an inspectable state.
type Minimal struct {
	registry *processor.Registry
}

func NewMinimal(registry *processor.Registry) *Minimal {
	return &Minimal{registry: registry}
}

func (*Minimal) Name() string { return "minimal" }

func (*Minimal) CanHandle(err *entity.ProcessingError, _ constants.Format) bool {
	return contentFailure(err)
}

func (m *Minimal) Execute(_ context.Context, in entity.FileInput, _ entity.ProcessingOptions) entity.ProcessingResult {
	meta := processor.BaseMetadata(in, in.Format)
	if m.registry != nil {
		if p, ok := m.registry.Lookup(in.Format); ok {
			if md, err := safeMetadata(p, in); err == nil {
				meta = md
			}
		}
	}
	return entity.ProcessingResult{
		Success:  true,
		Metadata: meta,
		Source:   m.Name(),
		Warnings: []string{"no text could be extracted; returning metadata only"},
	}
}

func safeMetadata(p processor.Processor, in entity.FileInput) (md entity.FileMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = entity.NewProcessingError(constants.ErrCodeParse, "metadata panicked: %v", r)
		}
	}()
	return p.ExtractMetadata(in)
}

// NewDefaultChain wires the standard strategies in their recommended order.
func NewDefaultChain(minText int, registry *processor.Registry, recognizer Recognizer, ocrEnabled bool,
	defaultTimeout time.Duration, logger *slog.Logger) *Chain {
	return NewChain(minText, logger,
		NewBinaryText(),
		NewOCR(recognizer, ocrEnabled, logger),
		NewRetryAdjusted(registry, defaultTimeout),
		NewMinimal(registry),
	)
}
