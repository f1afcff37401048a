package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

func init() {
	// pdfcpu would otherwise create a config dir under the user's home.
	api.DisableConfigDir()
}

// PDFProcessor extracts the text layer page by page with pdfcpu.
// Image-only pages yield no text; the fallback chain handles those.
type PDFProcessor struct {
	logger *slog.Logger
}

func NewPDFProcessor(logger *slog.Logger) *PDFProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFProcessor{logger: logger}
}

func (p *PDFProcessor) Format() constants.Format { return constants.FormatPDF }

func (p *PDFProcessor) CanProcess(in entity.FileInput, format constants.Format) bool {
	return format == constants.FormatPDF && len(in.Data) > 0
}

func (p *PDFProcessor) Validate(in entity.FileInput) entity.FileValidationResult {
	res := validate.CheckPDF(in.Data)
	res.DetectedFormat = constants.FormatPDF
	return res
}

func (p *PDFProcessor) Process(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult {
	ReportStage(ctx, constants.StageRead)
	pctx, perr := p.read(in.Data)
	if perr != nil {
		return entity.Failed(string(constants.FormatPDF), perr)
	}

	ReportStage(ctx, constants.StageParse)
	meta := p.metadata(pctx, in)
	pages := pctx.PageCount
	var warnings []string
	if opts.MaxPages > 0 && pages > opts.MaxPages {
		warnings = append(warnings, fmt.Sprintf("extracted %d of %d pages (max_pages)", opts.MaxPages, pages))
		pages = opts.MaxPages
	}

	ReportStage(ctx, constants.StageExtract)
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctxError(ctx, constants.FormatPDF); err != nil {
			return entity.Failed(string(constants.FormatPDF), err)
		}
		r, err := pdfcpu.ExtractPageContent(pctx, i)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		if text := ContentStreamText(content); text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(text)
		}
	}

	text := strings.TrimSpace(sb.String())
	meta.WordCount = WordCount(text)
	p.logger.Debug("pdf text extracted", "file_name", in.FileName, "pages", pages, "chars", len(text))
	return entity.ProcessingResult{
		Success:  true,
		Text:     text,
		Metadata: meta,
		Source:   string(constants.FormatPDF),
		Warnings: warnings,
	}
}

func (p *PDFProcessor) ExtractMetadata(in entity.FileInput) (entity.FileMetadata, error) {
	pctx, perr := p.read(in.Data)
	if perr != nil {
		return BaseMetadata(in, constants.FormatPDF), perr
	}
	return p.metadata(pctx, in), nil
}

func (p *PDFProcessor) read(data []byte) (*model.Context, *entity.ProcessingError) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		if isEncryptionError(err) {
			return nil, entity.NewProcessingError(constants.ErrCodeEncrypted, "pdf is encrypted: %v", err)
		}
		return nil, entity.NewProcessingError(constants.ErrCodeParse, "read pdf: %v", err)
	}
	if pctx.Encrypt != nil {
		return nil, entity.NewProcessingError(constants.ErrCodeEncrypted, "pdf is encrypted")
	}
	// Validation fills the document info fields; sloppy producers fail it, which is not fatal.
	if err := api.ValidateContext(pctx); err != nil {
		p.logger.Debug("pdf validation failed, continuing", "error", err)
	}
	if err := pctx.EnsurePageCount(); err != nil {
		return nil, entity.NewProcessingError(constants.ErrCodeParse, "count pages: %v", err)
	}
	return pctx, nil
}

func (p *PDFProcessor) metadata(pctx *model.Context, in entity.FileInput) entity.FileMetadata {
	meta := BaseMetadata(in, constants.FormatPDF)
	meta.PageCount = pctx.PageCount
	meta.Title = pctx.Title
	meta.Author = pctx.Author
	meta.Subject = pctx.Subject
	meta.Producer = pctx.Producer
	meta.CreatedAt = parsePDFDate(pctx.XRefTable.CreationDate)
	meta.ModifiedAt = parsePDFDate(pctx.XRefTable.ModDate)
	if pctx.Creator != "" {
		meta.Extra = map[string]string{"creator": pctx.Creator}
	}
	return meta
}

func isEncryptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "encrypt") || strings.Contains(msg, "password")
}

// parsePDFDate understands D:YYYYMMDDHHmmSS with an optional Z/+HH'mm' suffix.
func parsePDFDate(s string) *time.Time {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 4 {
		return nil
	}
	layouts := []struct {
		n      int
		layout string
	}{
		{14, "20060102150405"},
		{12, "200601021504"},
		{8, "20060102"},
		{6, "200601"},
		{4, "2006"},
	}
	for _, l := range layouts {
		if len(s) < l.n {
			continue
		}
		t, err := time.Parse(l.layout, s[:l.n])
		if err != nil {
			continue
		}
		rest := strings.ReplaceAll(s[l.n:], "'", "")
		if len(rest) >= 5 && (rest[0] == '+' || rest[0] == '-') {
			if tz, err := time.Parse("-0700", rest[:5]); err == nil {
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, tz.Location())
			}
		}
		t = t.UTC()
		return &t
	}
	return nil
}
