package constants

import "strings"

// Format is the detected document format. Processors register by Format.
type Format string

const (
	FormatUnknown Format = ""
	FormatPDF     Format = "PDF"
	FormatDOCX    Format = "DOCX"
	FormatXLSX    Format = "XLSX"
	FormatTXT     Format = "TXT"
)

// FileTypes holds the formats the pipeline knows how to name.
var FileTypes = []Format{FormatPDF, FormatDOCX, FormatXLSX, FormatTXT}

// AllowedExtensions holds the default allowed file extensions for ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"docx": {},
	"xlsx": {},
	"txt":  {},
	"text": {},
}

var extToFormat = map[string]Format{
	"pdf":  FormatPDF,
	"docx": FormatDOCX,
	"xlsx": FormatXLSX,
	"txt":  FormatTXT,
	"text": FormatTXT,
	"log":  FormatTXT,
	"csv":  FormatTXT,
}

var mimeToFormat = map[string]Format{
	"application/pdf":   FormatPDF,
	"application/x-pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       FormatXLSX,
	"text/plain": FormatTXT,
	"text/csv":   FormatTXT,
}

// MimeTypes maps each format to its canonical mime type.
var MimeTypes = map[Format]string{
	FormatPDF:  "application/pdf",
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatTXT:  "text/plain",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps a file extension (with or without dot) to a Format.
func MapExtToFormat(ext string) Format {
	return extToFormat[NormalizeExt(ext)]
}

// MapMimeToFormat maps a mime type (parameters ignored) to a Format.
func MapMimeToFormat(mime string) Format {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mimeToFormat[mime]
}

// ParseFormat accepts a format name ("pdf", "PDF"), an extension or a mime type.
func ParseFormat(s string) Format {
	s = strings.TrimSpace(s)
	if s == "" {
		return FormatUnknown
	}
	if strings.Contains(s, "/") {
		return MapMimeToFormat(s)
	}
	up := Format(strings.ToUpper(strings.TrimPrefix(s, ".")))
	for _, f := range FileTypes {
		if f == up {
			return f
		}
	}
	return MapExtToFormat(s)
}
