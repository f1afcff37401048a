package validate

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/joseph-ayodele/docflow/constants"
)

func newValidator() *Validator {
	return New(Config{
		MaxFileSize:      1 << 20,
		SupportedFormats: []constants.Format{constants.FormatPDF, constants.FormatDOCX, constants.FormatTXT},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func minimalPDF() []byte {
	return []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")
}

func zipWith(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		io.WriteString(w, "<x/>")
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func joined(findings []string) string { return strings.Join(findings, "; ") }

func TestValidate_EmptyPDF(t *testing.T) {
	res := newValidator().Validate(nil, "empty.pdf", "application/pdf")
	if res.IsValid {
		t.Fatalf("empty file must be invalid")
	}
	all := joined(res.Findings())
	if !strings.Contains(all, "empty") || !strings.Contains(all, "invalid header") {
		t.Fatalf("findings = %q, want empty and invalid header", all)
	}
	if res.DetectedFormat != constants.FormatPDF {
		t.Errorf("detected = %q, want PDF", res.DetectedFormat)
	}
}

func TestValidate_TooLarge(t *testing.T) {
	v := New(Config{MaxFileSize: 8, SupportedFormats: []constants.Format{constants.FormatTXT}}, nil)
	res := v.Validate([]byte("hello, world"), "a.txt", "")
	if res.IsValid || !strings.Contains(joined(res.Errors), "exceeds maximum") {
		t.Fatalf("expected size error, got %+v", res)
	}
}

func TestValidate_WellFormedPDF(t *testing.T) {
	res := newValidator().Validate(minimalPDF(), "doc.pdf", "")
	if !res.IsValid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
	if res.DetectedFormat != constants.FormatPDF || res.MimeType != "application/pdf" {
		t.Fatalf("detected %q %q", res.DetectedFormat, res.MimeType)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestValidate_PDFWithoutTrailerWarns(t *testing.T) {
	data := []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\n")
	res := newValidator().Validate(data, "doc.pdf", "")
	if !res.IsValid {
		t.Fatalf("missing trailer is only a warning: %v", res.Errors)
	}
	if !strings.Contains(joined(res.Warnings), "%%EOF") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestValidate_EncryptedPDF(t *testing.T) {
	data := []byte("%PDF-1.6\ntrailer << /Root 1 0 R /Encrypt 5 0 R >>\n%%EOF\n")
	res := newValidator().Validate(data, "locked.pdf", "")
	if res.IsValid || !res.Encrypted {
		t.Fatalf("encrypted pdf must be rejected: %+v", res)
	}
}

func TestValidate_SpoofedExtension(t *testing.T) {
	// PDF bytes named as a text file: the signature wins.
	res := newValidator().Validate(minimalPDF(), "notes.txt", "text/plain")
	if res.DetectedFormat != constants.FormatPDF {
		t.Fatalf("detected = %q, want PDF", res.DetectedFormat)
	}
	if !strings.Contains(joined(res.Warnings), "content is PDF") {
		t.Fatalf("expected spoof warning, got %v", res.Warnings)
	}
}

func TestValidate_UnsupportedFormat(t *testing.T) {
	data := zipWith(t, "[Content_Types].xml", "xl/workbook.xml")
	res := newValidator().Validate(data, "sheet.xlsx", "")
	if res.IsValid || !strings.Contains(joined(res.Errors), "unsupported format XLSX") {
		t.Fatalf("expected unsupported error, got %+v", res)
	}
}

func TestValidate_UnknownFormat(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe, 0x00, 0x10, 0x11}
	res := newValidator().Validate(data, "blob", "")
	if res.IsValid || !strings.Contains(joined(res.Errors), "unable to determine") {
		t.Fatalf("expected unknown format, got %+v", res)
	}
}

func TestValidate_TextByContent(t *testing.T) {
	res := newValidator().Validate([]byte("just some plain words\nover two lines\n"), "README", "")
	if !res.IsValid || res.DetectedFormat != constants.FormatTXT || res.Encoding != EncodingUTF8 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCheckOOXML(t *testing.T) {
	ok := CheckOOXML(zipWith(t, "[Content_Types].xml", "word/document.xml"), "word/document.xml")
	if !ok.IsValid || len(ok.Warnings) != 0 {
		t.Fatalf("expected clean docx: %+v", ok)
	}

	missing := CheckOOXML(zipWith(t, "[Content_Types].xml"), "word/document.xml")
	if !missing.IsValid || !strings.Contains(joined(missing.Warnings), "word/document.xml") {
		t.Fatalf("missing part should warn: %+v", missing)
	}

	cfb := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)
	enc := CheckOOXML(cfb, "word/document.xml")
	if enc.IsValid || !enc.Encrypted {
		t.Fatalf("CFB wrapper must be treated as encrypted: %+v", enc)
	}
}

func TestDetectEncoding(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte("plain"), EncodingUTF8},
		{[]byte{0xEF, 0xBB, 0xBF, 'a'}, EncodingUTF8BOM},
		{[]byte{0xFF, 0xFE, 'a', 0}, EncodingUTF16LE},
		{[]byte{0xFE, 0xFF, 0, 'a'}, EncodingUTF16BE},
		{[]byte{'a', 0xC3, 0x28}, EncodingUnknown},
	}
	for _, tc := range cases {
		if got := DetectEncoding(tc.in); got != tc.want {
			t.Errorf("DetectEncoding(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
