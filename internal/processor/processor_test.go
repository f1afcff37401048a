package processor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/testutil"
)

func TestPDFProcessor_HelloWorld(t *testing.T) {
	data := testutil.BuildPDF(testutil.PDFInfo{Title: "Greeting", Author: "Ada", Producer: "tests"}, "Hello World")
	in := entity.FileInput{Data: data, FileName: "hello.pdf", Format: constants.FormatPDF}

	p := NewPDFProcessor(nil)
	if !p.CanProcess(in, constants.FormatPDF) || p.CanProcess(in, constants.FormatDOCX) {
		t.Fatalf("CanProcess mismatch")
	}
	res := p.Process(context.Background(), in, entity.ProcessingOptions{})
	if !res.Success {
		t.Fatalf("process failed: %v", res.Error)
	}
	if !strings.Contains(res.Text, "Hello World") {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Metadata.PageCount != 1 {
		t.Errorf("page count = %d, want 1", res.Metadata.PageCount)
	}
	if res.Metadata.WordCount != 2 {
		t.Errorf("word count = %d, want 2", res.Metadata.WordCount)
	}
}

func TestPDFProcessor_InfoDictionary(t *testing.T) {
	data := testutil.BuildPDF(testutil.PDFInfo{Title: "Quarterly", Author: "Grace", Producer: "tests"}, "body")
	md, err := NewPDFProcessor(nil).ExtractMetadata(entity.FileInput{Data: data, FileName: "q.pdf"})
	if err != nil {
		t.Fatalf("ExtractMetadata: %v", err)
	}
	if md.Title != "Quarterly" || md.Author != "Grace" {
		t.Fatalf("info = %+v", md)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if md.CreatedAt == nil || !md.CreatedAt.Equal(want) {
		t.Fatalf("created = %v, want %v", md.CreatedAt, want)
	}
}

func TestPDFProcessor_MaxPages(t *testing.T) {
	data := testutil.BuildPDF(testutil.PDFInfo{}, "first page", "second page", "third page")
	in := entity.FileInput{Data: data, FileName: "three.pdf"}
	res := NewPDFProcessor(nil).Process(context.Background(), in, entity.ProcessingOptions{MaxPages: 2})
	if !res.Success {
		t.Fatalf("process failed: %v", res.Error)
	}
	if !strings.Contains(res.Text, "second page") || strings.Contains(res.Text, "third page") {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Warnings) == 0 {
		t.Errorf("expected a max_pages warning")
	}
}

func TestPDFProcessor_Garbage(t *testing.T) {
	in := entity.FileInput{Data: []byte("%PDF-1.4\nthis is not really a pdf"), FileName: "bad.pdf"}
	res := NewPDFProcessor(nil).Process(context.Background(), in, entity.ProcessingOptions{})
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Error == nil || !res.Error.Recoverable {
		t.Fatalf("parse failure should be recoverable: %+v", res.Error)
	}
}

func TestContentStreamText(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"simple", "BT /F1 12 Tf 72 700 Td (Hello World) Tj ET", "Hello World"},
		{"array", "BT [(Hel) -20 (lo) -500 (World)] TJ ET", "Hello World"},
		{"escapes", `BT (a\(b\)c\\d) Tj ET`, `a(b)c\d`},
		{"octal", `BT (caf\351) Tj ET`, "café"},
		{"lines", "BT (one) Tj 0 -14 Td (two) Tj T* (three) Tj ET", "one\ntwo\nthree"},
		{"hex", "BT <48656C6C6F> Tj ET", "Hello"},
		{"quote", "BT (a) Tj (b) ' ET", "a\nb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ContentStreamText([]byte(tc.in)); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParsePDFDate(t *testing.T) {
	got := parsePDFDate("D:20260301120000+02'00'")
	if got == nil {
		t.Fatalf("expected a date")
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if parsePDFDate("nonsense") != nil {
		t.Fatalf("expected nil for unparseable date")
	}
}

func TestDOCXProcessor(t *testing.T) {
	data, err := testutil.BuildDOCX("Quarterly Report", "Grace", "First paragraph.", "Second & final paragraph.")
	if err != nil {
		t.Fatalf("build docx: %v", err)
	}
	in := entity.FileInput{Data: data, FileName: "report.docx"}
	p := NewDOCXProcessor(nil)

	if v := p.Validate(in); !v.IsValid || len(v.Warnings) != 0 {
		t.Fatalf("validate: %+v", v)
	}
	res := p.Process(context.Background(), in, entity.ProcessingOptions{})
	if !res.Success {
		t.Fatalf("process failed: %v", res.Error)
	}
	if res.Text != "First paragraph.\nSecond & final paragraph." {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Metadata.Title != "Quarterly Report" || res.Metadata.Author != "Grace" || res.Metadata.PageCount != 1 {
		t.Fatalf("metadata = %+v", res.Metadata)
	}
	if res.Metadata.CreatedAt == nil || res.Metadata.CreatedAt.Year() != 2026 {
		t.Errorf("created_at = %v", res.Metadata.CreatedAt)
	}
}

func TestDOCXProcessor_NotAZip(t *testing.T) {
	res := NewDOCXProcessor(nil).Process(context.Background(), entity.FileInput{Data: []byte("plain words")}, entity.ProcessingOptions{})
	if res.Success || res.Error == nil || res.Error.Code != constants.ErrCodeParse {
		t.Fatalf("expected PARSE_ERROR, got %+v", res)
	}
}

func TestXLSXProcessor(t *testing.T) {
	data, err := testutil.BuildXLSX("Budget", [][]string{{"item", "cost"}, {"paper", "12"}})
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	in := entity.FileInput{Data: data, FileName: "budget.xlsx"}
	res := NewXLSXProcessor(nil).Process(context.Background(), in, entity.ProcessingOptions{})
	if !res.Success {
		t.Fatalf("process failed: %v", res.Error)
	}
	if !strings.Contains(res.Text, "item\tcost") || !strings.Contains(res.Text, "paper\t12") {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Metadata.Title != "Budget" || res.Metadata.PageCount != 1 {
		t.Fatalf("metadata = %+v", res.Metadata)
	}
}

func TestTextProcessor_Encodings(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"utf8", []byte("héllo\r\nworld"), "héllo\nworld"},
		{"bom", []byte("\xEF\xBB\xBFhello"), "hello"},
		{"utf16le", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, "hi"},
		{"cp1252", []byte("caf\xe9"), "café"},
	}
	p := NewTextProcessor(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := p.Process(context.Background(), entity.FileInput{Data: tc.in}, entity.ProcessingOptions{})
			if !res.Success || res.Text != tc.want {
				t.Fatalf("got %q (%v), want %q", res.Text, res.Error, tc.want)
			}
		})
	}
}

type panicky struct{ *TextProcessor }

func (panicky) Process(context.Context, entity.FileInput, entity.ProcessingOptions) entity.ProcessingResult {
	panic("boom")
}

type sleepy struct{ *TextProcessor }

func (sleepy) Process(ctx context.Context, _ entity.FileInput, _ entity.ProcessingOptions) entity.ProcessingResult {
	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	return entity.ProcessingResult{Success: true, Text: "too late"}
}

func TestRun_RecoversPanics(t *testing.T) {
	res := Run(context.Background(), panicky{NewTextProcessor(nil)}, entity.FileInput{Data: []byte("x")}, entity.ProcessingOptions{}, time.Second)
	if res.Success || res.Error == nil || res.Error.Code != constants.ErrCodeParse || !res.Error.Recoverable {
		t.Fatalf("expected recoverable PARSE_ERROR, got %+v", res)
	}
	if res.Source != string(constants.FormatTXT) {
		t.Errorf("source = %q", res.Source)
	}
}

func TestRun_Timeout(t *testing.T) {
	opts := entity.ProcessingOptions{Timeout: 20 * time.Millisecond}
	res := Run(context.Background(), sleepy{NewTextProcessor(nil)}, entity.FileInput{Data: []byte("x")}, opts, time.Minute)
	if res.Success || res.Error == nil || res.Error.Code != constants.ErrCodeTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", res)
	}
	if !res.Error.Transient() {
		t.Errorf("timeout must be transient")
	}
}

// lateReporter outlives its timeout and then reports a stage.
type lateReporter struct {
	*TextProcessor
	done chan struct{}
}

func (l lateReporter) Process(ctx context.Context, _ entity.FileInput, _ entity.ProcessingOptions) entity.ProcessingResult {
	defer close(l.done)
	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	ReportStage(ctx, constants.StageParse)
	return entity.ProcessingResult{Success: true, Text: "too late"}
}

func TestRun_AbandonedProcessorCannotReport(t *testing.T) {
	var (
		mu     sync.Mutex
		stages []string
	)
	ctx := WithStageReporter(context.Background(), func(s string) {
		mu.Lock()
		stages = append(stages, s)
		mu.Unlock()
	})
	p := lateReporter{TextProcessor: NewTextProcessor(nil), done: make(chan struct{})}
	opts := entity.ProcessingOptions{Timeout: 20 * time.Millisecond}
	res := Run(ctx, p, entity.FileInput{Data: []byte("x")}, opts, time.Minute)
	if res.Error == nil || res.Error.Code != constants.ErrCodeTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", res)
	}

	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatalf("processor goroutine never finished")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(stages) != 0 {
		t.Fatalf("stages reported after Run returned: %v", stages)
	}
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(nil, constants.FormatPDF, constants.FormatTXT)
	if _, ok := r.Lookup(constants.FormatPDF); !ok {
		t.Fatalf("pdf not registered")
	}
	if _, ok := r.Lookup(constants.FormatDOCX); ok {
		t.Fatalf("docx should not be registered")
	}
	got := r.Formats()
	if len(got) != 2 || got[0] != constants.FormatPDF || got[1] != constants.FormatTXT {
		t.Fatalf("formats = %v", got)
	}
}

func TestReportStage(t *testing.T) {
	var stages []string
	ctx := WithStageReporter(context.Background(), func(s string) { stages = append(stages, s) })
	NewTextProcessor(nil).Process(ctx, entity.FileInput{Data: []byte("hi")}, entity.ProcessingOptions{})
	want := []string{constants.StageRead, constants.StageParse, constants.StageExtract}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
}
