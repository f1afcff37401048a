package processor

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

// TextProcessor decodes plain text, honouring byte-order marks. Bytes that are
// not valid UTF-8 are read as Windows-1252.
type TextProcessor struct {
	logger *slog.Logger
}

func NewTextProcessor(logger *slog.Logger) *TextProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextProcessor{logger: logger}
}

func (p *TextProcessor) Format() constants.Format { return constants.FormatTXT }

func (p *TextProcessor) CanProcess(in entity.FileInput, format constants.Format) bool {
	return format == constants.FormatTXT
}

func (p *TextProcessor) Validate(in entity.FileInput) entity.FileValidationResult {
	res := validate.CheckText(in.Data)
	res.DetectedFormat = constants.FormatTXT
	return res
}

func (p *TextProcessor) Process(ctx context.Context, in entity.FileInput, _ entity.ProcessingOptions) entity.ProcessingResult {
	ReportStage(ctx, constants.StageRead)
	enc := validate.DetectEncoding(in.Data)

	ReportStage(ctx, constants.StageParse)
	text, err := DecodeText(in.Data, enc)
	if err != nil {
		return entity.Failed(string(constants.FormatTXT),
			entity.NewProcessingError(constants.ErrCodeParse, "decode %s text: %v", enc, err))
	}

	ReportStage(ctx, constants.StageExtract)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	meta := p.metadata(in, text, enc)
	var warnings []string
	if enc == validate.EncodingUnknown {
		warnings = append(warnings, "input was not UTF-8; decoded as windows-1252")
	}
	return entity.ProcessingResult{
		Success:  true,
		Text:     strings.TrimSpace(text),
		Metadata: meta,
		Source:   string(constants.FormatTXT),
		Warnings: warnings,
	}
}

func (p *TextProcessor) ExtractMetadata(in entity.FileInput) (entity.FileMetadata, error) {
	enc := validate.DetectEncoding(in.Data)
	text, err := DecodeText(in.Data, enc)
	if err != nil {
		return BaseMetadata(in, constants.FormatTXT),
			entity.NewProcessingError(constants.ErrCodeParse, "decode %s text: %v", enc, err)
	}
	return p.metadata(in, text, enc), nil
}

func (p *TextProcessor) metadata(in entity.FileInput, text, enc string) entity.FileMetadata {
	meta := BaseMetadata(in, constants.FormatTXT)
	meta.WordCount = WordCount(text)
	lines := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		lines++
	}
	meta.Extra = map[string]string{
		"encoding": enc,
		"lines":    strconv.Itoa(lines),
	}
	return meta
}

// DecodeText converts data to a UTF-8 string according to a validate.Encoding* label.
func DecodeText(data []byte, enc string) (string, error) {
	var dec *encoding.Decoder
	switch enc {
	case validate.EncodingUTF8:
		return string(data), nil
	case validate.EncodingUTF8BOM:
		dec = unicode.UTF8BOM.NewDecoder()
	case validate.EncodingUTF16LE:
		dec = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case validate.EncodingUTF16BE:
		dec = unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
	default:
		if utf8.Valid(data) {
			return string(data), nil
		}
		dec = charmap.Windows1252.NewDecoder()
	}
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
