package validate

import (
	"archive/zip"
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

var (
	pdfMagic = []byte("%PDF-")
	pdfEOF   = []byte("%%EOF")
	zipMagic = []byte("PK\x03\x04")
	// Compound File Binary header; password-protected OOXML is wrapped in one.
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// pdfHeaderWindow is how far into the file a PDF header may start.
const pdfHeaderWindow = 1024

// CheckStructure runs the signature and structural checks for format.
func CheckStructure(format constants.Format, data []byte) entity.FileValidationResult {
	switch format {
	case constants.FormatPDF:
		return CheckPDF(data)
	case constants.FormatDOCX:
		return CheckOOXML(data, "word/document.xml")
	case constants.FormatXLSX:
		return CheckOOXML(data, "xl/workbook.xml")
	case constants.FormatTXT:
		return CheckText(data)
	}
	return entity.FileValidationResult{IsValid: true}
}

// CheckPDF requires no encryption dictionary; a bad header or missing trailer is a warning.
func CheckPDF(data []byte) entity.FileValidationResult {
	res := entity.FileValidationResult{IsValid: true, Size: int64(len(data))}
	head := data
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}
	if !bytes.Contains(head, pdfMagic) {
		res.AddWarning("invalid header: missing %PDF- signature")
	}
	if len(data) == 0 {
		return res
	}
	tail := data
	if len(tail) > pdfHeaderWindow {
		tail = tail[len(tail)-pdfHeaderWindow:]
	}
	if !bytes.Contains(tail, pdfEOF) {
		res.AddWarning("missing %%EOF trailer marker")
	}
	if bytes.Contains(data, []byte("/Encrypt")) {
		res.Encrypted = true
		res.AddError("file is encrypted or password protected")
	}
	return res
}

// CheckOOXML checks the zip container and that the main part exists.
func CheckOOXML(data []byte, mainPart string) entity.FileValidationResult {
	res := entity.FileValidationResult{IsValid: true, Size: int64(len(data))}
	if bytes.HasPrefix(data, cfbMagic) {
		res.Encrypted = true
		res.AddError("file is encrypted or password protected")
		return res
	}
	if !bytes.HasPrefix(data, zipMagic) {
		res.AddWarning("invalid header: missing ZIP signature")
	}
	if len(data) == 0 {
		return res
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		res.AddWarning(fmt.Sprintf("archive structure damaged: %v", err))
		return res
	}
	found := false
	for _, f := range zr.File {
		switch f.Name {
		case mainPart:
			found = true
		case "EncryptionInfo", "EncryptedPackage":
			res.Encrypted = true
			res.AddError("file is encrypted or password protected")
		}
	}
	if !found {
		res.AddWarning(fmt.Sprintf("archive has no %s part", mainPart))
	}
	return res
}

// CheckText records the encoding and flags binary content.
func CheckText(data []byte) entity.FileValidationResult {
	res := entity.FileValidationResult{IsValid: true, Size: int64(len(data))}
	res.Encoding = DetectEncoding(data)
	if res.Encoding == EncodingUnknown {
		res.AddWarning("text is not valid UTF-8; decoding will be lossy")
	}
	if res.Encoding == EncodingUTF8 && bytes.IndexByte(data, 0) >= 0 {
		res.AddWarning("text contains NUL bytes")
	}
	return res
}

// Encodings reported by DetectEncoding.
const (
	EncodingUTF8    = "utf-8"
	EncodingUTF8BOM = "utf-8-bom"
	EncodingUTF16LE = "utf-16le"
	EncodingUTF16BE = "utf-16be"
	EncodingUnknown = "unknown"
)

// DetectEncoding recognises byte-order marks and plain UTF-8.
func DetectEncoding(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return EncodingUTF8BOM
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return EncodingUTF16LE
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return EncodingUTF16BE
	case utf8.Valid(data):
		return EncodingUTF8
	}
	return EncodingUnknown
}

// textSample bounds the bytes the printable heuristic looks at.
const (
	textSample       = 8 << 10
	minPrintableRate = 0.95
)

// PrintableRatio is the share of runes in the leading sample that are printable or whitespace.
func PrintableRatio(data []byte) float64 {
	if len(data) > textSample {
		data = data[:textSample]
	}
	var total, printable int
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		total++
		if r == utf8.RuneError && size == 1 {
			continue
		}
		if r == '\n' || r == '\r' || r == '\t' || (r >= 0x20 && r != 0x7f) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}

// LooksLikeText applies the printable-ratio heuristic.
func LooksLikeText(data []byte) bool {
	return PrintableRatio(data) >= minPrintableRate
}
