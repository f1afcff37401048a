// Package validate inspects untrusted input before any processor sees it.
package validate

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Config controls the size limit and which formats have a processor behind them.
type Config struct {
	MaxFileSize      int64
	SupportedFormats []constants.Format
}

// Validator reports findings as data; it never fails the call itself.
type Validator struct {
	maxSize   int64
	supported map[constants.Format]struct{}
	logger    *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	supported := make(map[constants.Format]struct{}, len(cfg.SupportedFormats))
	for _, f := range cfg.SupportedFormats {
		supported[f] = struct{}{}
	}
	return &Validator{maxSize: cfg.MaxFileSize, supported: supported, logger: logger}
}

// Validate checks size, detects the format and runs the format's structural checks.
// declared may be a mime type, a format name or an extension; it is advisory.
func (v *Validator) Validate(data []byte, fileName, declared string) entity.FileValidationResult {
	res := entity.FileValidationResult{IsValid: true, Size: int64(len(data))}

	if len(data) == 0 {
		res.AddError("file is empty")
	} else if v.maxSize > 0 && res.Size > v.maxSize {
		res.AddError(fmt.Sprintf("file size %d exceeds maximum of %d bytes", res.Size, v.maxSize))
	}

	d := Detect(data, fileName, declared)
	res.DetectedFormat = d.Format
	res.MimeType = d.MimeType
	res.Warnings = append(res.Warnings, d.Warnings...)

	if d.Format == constants.FormatUnknown {
		res.AddError("unable to determine file format")
		v.logResult(fileName, res)
		return res
	}
	if _, ok := v.supported[d.Format]; !ok {
		res.AddError(fmt.Sprintf("unsupported format %s", d.Format))
		v.logResult(fileName, res)
		return res
	}
	if canonical, ok := constants.MimeTypes[d.Format]; ok {
		res.MimeType = canonical
	}

	res.Merge(CheckStructure(d.Format, data))
	v.logResult(fileName, res)
	return res
}

func (v *Validator) logResult(fileName string, res entity.FileValidationResult) {
	if res.IsValid {
		v.logger.Debug("file validated", "file_name", fileName, "format", res.DetectedFormat, "warnings", len(res.Warnings))
		return
	}
	v.logger.Info("file rejected", "file_name", fileName, "format", res.DetectedFormat, "errors", res.Errors)
}

// Detection is the outcome of format detection.
type Detection struct {
	Format   constants.Format
	MimeType string
	// Source names the signal that decided Format: declared, extension, signature or content.
	Source   string
	Warnings []string
}

// Detect picks a format from, in order, the declared type, the file extension,
// the binary signature and a printable-content heuristic. A container signature
// (PDF, OOXML) that contradicts the declared type wins, so a spoofed extension
// cannot route bytes to the wrong processor.
func Detect(data []byte, fileName, declared string) Detection {
	var d Detection

	declaredFormat := constants.ParseFormat(declared)
	extFormat := constants.MapExtToFormat(filepath.Ext(fileName))

	var sigFormat constants.Format
	if len(data) > 0 {
		m := mimetype.Detect(data)
		d.MimeType = m.String()
		sigFormat = formatFromMIME(m)
	}

	switch {
	case declaredFormat != constants.FormatUnknown:
		d.Format, d.Source = declaredFormat, "declared"
	case extFormat != constants.FormatUnknown:
		d.Format, d.Source = extFormat, "extension"
	case sigFormat != constants.FormatUnknown:
		d.Format, d.Source = sigFormat, "signature"
	case len(data) > 0 && LooksLikeText(data):
		d.Format, d.Source = constants.FormatTXT, "content"
	}

	if definitive(sigFormat) && d.Format != sigFormat {
		if d.Format != constants.FormatUnknown {
			d.Warnings = append(d.Warnings, fmt.Sprintf("%s says %s but content is %s; using %s", d.Source, d.Format, sigFormat, sigFormat))
		}
		d.Format, d.Source = sigFormat, "signature"
	}
	return d
}

func formatFromMIME(m *mimetype.MIME) constants.Format {
	for ; m != nil; m = m.Parent() {
		if f := constants.MapMimeToFormat(m.String()); f != constants.FormatUnknown {
			return f
		}
	}
	return constants.FormatUnknown
}

// definitive reports signatures strong enough to override a declared type.
func definitive(f constants.Format) bool {
	switch f {
	case constants.FormatPDF, constants.FormatDOCX, constants.FormatXLSX:
		return true
	}
	return false
}
