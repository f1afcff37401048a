package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

// maxPartSize caps how much of one archive member is inflated.
const maxPartSize = 64 << 20

// DOCXProcessor reads word/document.xml and the docProps parts of a DOCX archive.
type DOCXProcessor struct {
	logger *slog.Logger
}

func NewDOCXProcessor(logger *slog.Logger) *DOCXProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DOCXProcessor{logger: logger}
}

func (p *DOCXProcessor) Format() constants.Format { return constants.FormatDOCX }

func (p *DOCXProcessor) CanProcess(in entity.FileInput, format constants.Format) bool {
	return format == constants.FormatDOCX && len(in.Data) > 0
}

func (p *DOCXProcessor) Validate(in entity.FileInput) entity.FileValidationResult {
	res := validate.CheckOOXML(in.Data, "word/document.xml")
	res.DetectedFormat = constants.FormatDOCX
	return res
}

func (p *DOCXProcessor) Process(ctx context.Context, in entity.FileInput, _ entity.ProcessingOptions) entity.ProcessingResult {
	ReportStage(ctx, constants.StageRead)
	zr, perr := openArchive(in.Data, constants.FormatDOCX)
	if perr != nil {
		return entity.Failed(string(constants.FormatDOCX), perr)
	}

	ReportStage(ctx, constants.StageParse)
	doc, err := readPart(zr, "word/document.xml")
	if err != nil {
		return entity.Failed(string(constants.FormatDOCX),
			entity.NewProcessingError(constants.ErrCodeParse, "read document part: %v", err))
	}

	ReportStage(ctx, constants.StageExtract)
	text, err := documentText(doc)
	if err != nil {
		return entity.Failed(string(constants.FormatDOCX),
			entity.NewProcessingError(constants.ErrCodeParse, "parse document xml: %v", err))
	}
	if perr := ctxError(ctx, constants.FormatDOCX); perr != nil {
		return entity.Failed(string(constants.FormatDOCX), perr)
	}

	meta := p.metadata(zr, in)
	meta.WordCount = WordCount(text)
	p.logger.Debug("docx text extracted", "file_name", in.FileName, "chars", len(text))
	return entity.ProcessingResult{
		Success:  true,
		Text:     text,
		Metadata: meta,
		Source:   string(constants.FormatDOCX),
	}
}

func (p *DOCXProcessor) ExtractMetadata(in entity.FileInput) (entity.FileMetadata, error) {
	zr, perr := openArchive(in.Data, constants.FormatDOCX)
	if perr != nil {
		return BaseMetadata(in, constants.FormatDOCX), perr
	}
	return p.metadata(zr, in), nil
}

func (p *DOCXProcessor) metadata(zr *zip.Reader, in entity.FileInput) entity.FileMetadata {
	meta := BaseMetadata(in, constants.FormatDOCX)
	if core, err := readPart(zr, "docProps/core.xml"); err == nil {
		applyCoreProps(&meta, core)
	}
	if app, err := readPart(zr, "docProps/app.xml"); err == nil {
		var props appProps
		if xml.Unmarshal(app, &props) == nil {
			meta.PageCount = props.Pages
			meta.Producer = strings.TrimSpace(props.Application)
		}
	}
	return meta
}

func openArchive(data []byte, format constants.Format) (*zip.Reader, *entity.ProcessingError) {
	if bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0}) {
		return nil, entity.NewProcessingError(constants.ErrCodeEncrypted, "%s is encrypted or password protected", format)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, entity.NewProcessingError(constants.ErrCodeParse, "open %s archive: %v", format, err)
	}
	return zr, nil
}

func readPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, maxPartSize+1))
		if err != nil {
			return nil, err
		}
		if len(b) > maxPartSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, maxPartSize)
		}
		return b, nil
	}
	return nil, fmt.Errorf("part %s not found", name)
}

// documentText walks WordprocessingML: w:t runs are text, w:tab a tab,
// w:br/w:cr a line break and the end of each w:p a newline.
func documentText(doc []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if sb.Len() > 0 {
				// keep what was readable before the damage
				return strings.TrimSpace(sb.String()), nil
			}
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

type coreProps struct {
	Title    string `xml:"title"`
	Subject  string `xml:"subject"`
	Creator  string `xml:"creator"`
	Keywords string `xml:"keywords"`
	Created  string `xml:"created"`
	Modified string `xml:"modified"`
	LastBy   string `xml:"lastModifiedBy"`
}

type appProps struct {
	Application string `xml:"Application"`
	Pages       int    `xml:"Pages"`
	Words       int    `xml:"Words"`
}

func applyCoreProps(meta *entity.FileMetadata, raw []byte) {
	var props coreProps
	if err := xml.Unmarshal(raw, &props); err != nil {
		return
	}
	meta.Title = strings.TrimSpace(props.Title)
	meta.Subject = strings.TrimSpace(props.Subject)
	meta.Author = strings.TrimSpace(props.Creator)
	meta.CreatedAt = parseW3CDate(props.Created)
	meta.ModifiedAt = parseW3CDate(props.Modified)
	extra := map[string]string{}
	if props.Keywords != "" {
		extra["keywords"] = props.Keywords
	}
	if props.LastBy != "" {
		extra["last_modified_by"] = props.LastBy
	}
	if len(extra) > 0 {
		meta.Extra = extra
	}
}

func parseW3CDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if year, err := strconv.Atoi(s); err == nil && year > 0 {
		t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}
