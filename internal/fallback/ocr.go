package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/processor"
)

// Recognizer is the OCR backend; *ocr.Engine satisfies it.
type Recognizer interface {
	ExtractPDF(ctx context.Context, data []byte, maxPages int, lang string) (ocr.Result, error)
}

// OCR rasterises image-only PDFs and reads them back. It only engages when the
// deployment enables OCR; a job can still opt out through its options.
type OCR struct {
	engine  Recognizer
	enabled bool
	logger  *slog.Logger
}

func NewOCR(engine Recognizer, enabled bool, logger *slog.Logger) *OCR {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCR{engine: engine, enabled: enabled && engine != nil, logger: logger}
}

func (*OCR) Name() string { return "ocr" }

func (o *OCR) CanHandle(err *entity.ProcessingError, format constants.Format) bool {
	return o.enabled && format == constants.FormatPDF && contentFailure(err)
}

func (o *OCR) Execute(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult {
	if !opts.OCREnabled(o.enabled) {
		return entity.Failed(o.Name(), entity.NewProcessingError(constants.ErrCodeUnsupported, "ocr disabled for this job"))
	}
	res, err := o.engine.ExtractPDF(ctx, in.Data, opts.MaxPages, opts.Language)
	if err != nil {
		code := constants.ErrCodeParse
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			code = constants.ErrCodeTimeout
		case errors.Is(err, ocr.ErrNoPages):
			code = constants.ErrCodeEmptyContent
		}
		o.logger.Warn("ocr fallback failed", "file_name", in.FileName, "error", err)
		perr := entity.NewProcessingError(code, "ocr: %v", err)
		perr.Details = res.Warnings
		return entity.Failed(o.Name(), perr)
	}

	meta := processor.BaseMetadata(in, in.Format)
	meta.PageCount = res.Pages
	meta.WordCount = processor.WordCount(res.Text)
	meta.Extra = map[string]string{
		"ocr_language":   res.Language,
		"ocr_confidence": fmt.Sprintf("%.2f", res.Confidence),
	}
	return entity.ProcessingResult{
		Success:  true,
		Text:     res.Text,
		Metadata: meta,
		Source:   o.Name(),
		Warnings: res.Warnings,
	}
}
