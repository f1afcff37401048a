package processor

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

// XLSXProcessor renders each worksheet as tab-separated rows under a "# <sheet>" heading.
type XLSXProcessor struct {
	logger *slog.Logger
}

func NewXLSXProcessor(logger *slog.Logger) *XLSXProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXProcessor{logger: logger}
}

func (p *XLSXProcessor) Format() constants.Format { return constants.FormatXLSX }

func (p *XLSXProcessor) CanProcess(in entity.FileInput, format constants.Format) bool {
	return format == constants.FormatXLSX && len(in.Data) > 0
}

func (p *XLSXProcessor) Validate(in entity.FileInput) entity.FileValidationResult {
	res := validate.CheckOOXML(in.Data, "xl/workbook.xml")
	res.DetectedFormat = constants.FormatXLSX
	return res
}

func (p *XLSXProcessor) open(data []byte) (*excelize.File, *entity.ProcessingError) {
	if _, perr := openArchive(data, constants.FormatXLSX); perr != nil {
		return nil, perr
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, entity.NewProcessingError(constants.ErrCodeParse, "open workbook: %v", err)
	}
	return f, nil
}

func (p *XLSXProcessor) Process(ctx context.Context, in entity.FileInput, opts entity.ProcessingOptions) entity.ProcessingResult {
	ReportStage(ctx, constants.StageRead)
	f, perr := p.open(in.Data)
	if perr != nil {
		return entity.Failed(string(constants.FormatXLSX), perr)
	}
	defer f.Close()

	ReportStage(ctx, constants.StageParse)
	sheets := f.GetSheetList()
	var warnings []string
	if opts.MaxPages > 0 && len(sheets) > opts.MaxPages {
		warnings = append(warnings, "sheet count exceeds max_pages; remaining sheets skipped")
		sheets = sheets[:opts.MaxPages]
	}

	ReportStage(ctx, constants.StageExtract)
	var sb strings.Builder
	for _, sheet := range sheets {
		if perr := ctxError(ctx, constants.FormatXLSX); perr != nil {
			return entity.Failed(string(constants.FormatXLSX), perr)
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			warnings = append(warnings, "sheet "+sheet+": "+err.Error())
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("# " + sheet + "\n")
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}

	text := strings.TrimSpace(sb.String())
	meta := p.metadata(f, in)
	meta.WordCount = WordCount(text)
	p.logger.Debug("xlsx text extracted", "file_name", in.FileName, "sheets", len(sheets), "chars", len(text))
	return entity.ProcessingResult{
		Success:  true,
		Text:     text,
		Metadata: meta,
		Source:   string(constants.FormatXLSX),
		Warnings: warnings,
	}
}

func (p *XLSXProcessor) ExtractMetadata(in entity.FileInput) (entity.FileMetadata, error) {
	f, perr := p.open(in.Data)
	if perr != nil {
		return BaseMetadata(in, constants.FormatXLSX), perr
	}
	defer f.Close()
	return p.metadata(f, in), nil
}

func (p *XLSXProcessor) metadata(f *excelize.File, in entity.FileInput) entity.FileMetadata {
	meta := BaseMetadata(in, constants.FormatXLSX)
	meta.PageCount = len(f.GetSheetList())
	if props, err := f.GetDocProps(); err == nil && props != nil {
		meta.Title = props.Title
		meta.Subject = props.Subject
		meta.Author = props.Creator
		meta.CreatedAt = parseW3CDate(props.Created)
		meta.ModifiedAt = parseW3CDate(props.Modified)
	}
	if app, err := f.GetAppProps(); err == nil && app != nil {
		meta.Producer = app.Application
	}
	meta.Extra = map[string]string{"sheets": strings.Join(f.GetSheetList(), ",")}
	return meta
}
