package fallback

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/processor"
)

const (
	// minRun is the shortest printable run kept by the raw scan.
	minRun = 4
	// maxSalvage caps the bytes inflated from one archive member.
	maxSalvage = 16 << 20
)

// BinaryText salvages text without a real parser: content-stream strings for
// PDFs, XML character data for OOXML archives, and printable runs decoded under
// several candidate encodings for everything else.
type BinaryText struct{}

func NewBinaryText() *BinaryText { return &BinaryText{} }

func (*BinaryText) Name() string { return "binary-text" }

func (*BinaryText) CanHandle(err *entity.ProcessingError, _ constants.Format) bool {
	return contentFailure(err)
}

func (b *BinaryText) Execute(ctx context.Context, in entity.FileInput, _ entity.ProcessingOptions) entity.ProcessingResult {
	var (
		text string
		how  string
	)
	switch in.Format {
	case constants.FormatPDF:
		text, how = processor.ContentStreamText(in.Data), "pdf-strings"
	case constants.FormatDOCX, constants.FormatXLSX:
		text, how = salvageArchiveXML(in.Data), "archive-xml"
	default:
		text, how = PrintableRuns(in.Data)
	}
	if ctx.Err() != nil {
		return entity.Failed(b.Name(), entity.NewProcessingError(constants.ErrCodeTimeout, "binary scan interrupted"))
	}
	if strings.TrimSpace(text) == "" {
		return entity.Failed(b.Name(), entity.NewProcessingError(constants.ErrCodeEmptyContent, "binary scan (%s) found no text", how))
	}
	meta := processor.BaseMetadata(in, in.Format)
	meta.WordCount = processor.WordCount(text)
	meta.Extra = map[string]string{"binary_scan": how}
	return entity.ProcessingResult{
		Success:  true,
		Text:     text,
		Metadata: meta,
		Source:   b.Name(),
	}
}

var candidateEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"utf-8", xunicode.UTF8},
	{"utf-16le", xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM)},
	{"utf-16be", xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM)},
	{"windows-1252", charmap.Windows1252},
}

// PrintableRuns decodes data under each candidate encoding, keeps runs of at
// least minRun printable runes and returns the decoding with the most letters.
func PrintableRuns(data []byte) (string, string) {
	var (
		best      string
		bestName  string
		bestScore = -1
	)
	for _, c := range candidateEncodings {
		decoded, err := c.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		text, score := runs(string(decoded))
		if score > bestScore {
			best, bestName, bestScore = text, c.name, score
		}
	}
	return best, bestName
}

// scoredScripts are the alphabets a run's score counts. ASCII decoded as UTF-16
// turns into CJK ideographs, which would otherwise outscore the real text.
var scoredScripts = []*unicode.RangeTable{unicode.Latin, unicode.Greek, unicode.Cyrillic}

func runs(s string) (string, int) {
	var (
		out     strings.Builder
		cur     []rune
		letters int
		score   int
	)
	flush := func() {
		if len(cur) >= minRun && letters > 0 {
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(strings.TrimSpace(string(cur)))
			score += letters
		}
		cur, letters = cur[:0], 0
	}
	for _, r := range s {
		if r == unicode.ReplacementChar || (!unicode.IsPrint(r) && r != '\t') {
			flush()
			continue
		}
		cur = append(cur, r)
		if unicode.IsOneOf(scoredScripts, r) {
			letters++
		}
	}
	flush()
	return strings.Join(strings.Fields(out.String()), " "), score
}

// salvageArchiveXML reads character data from every XML member that still inflates.
func salvageArchiveXML(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	var parts []string
	for _, f := range zr.File {
		if !isContentPart(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		raw, _ := io.ReadAll(io.LimitReader(rc, maxSalvage))
		rc.Close()
		if t := xmlCharData(raw); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func isContentPart(name string) bool {
	return strings.HasSuffix(name, ".xml") &&
		(strings.HasPrefix(name, "word/document") || name == "xl/sharedStrings.xml" || strings.HasPrefix(name, "xl/worksheets/"))
}

// xmlCharData tolerates truncated XML and returns whatever text was readable.
func xmlCharData(raw []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false
	var words []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			if s := strings.TrimSpace(string(cd)); s != "" {
				words = append(words, s)
			}
		}
	}
	return strings.Join(words, " ")
}
