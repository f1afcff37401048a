package entity

import "github.com/joseph-ayodele/docflow/constants"

// FileValidationResult is produced fresh per validation call; it has no identity.
type FileValidationResult struct {
	IsValid        bool             `json:"is_valid"`
	Errors         []string         `json:"errors"`
	Warnings       []string         `json:"warnings"`
	DetectedFormat constants.Format `json:"detected_format,omitempty"`
	Size           int64            `json:"size"`
	MimeType       string           `json:"mime_type,omitempty"`
	Encoding       string           `json:"encoding,omitempty"`
	// Encrypted is set when the input is password protected; never processable.
	Encrypted bool `json:"encrypted,omitempty"`
}

// AddError records a hard finding and marks the result invalid.
func (r *FileValidationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.IsValid = false
}

// AddWarning records a soft finding.
func (r *FileValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Merge folds other's findings into r.
func (r *FileValidationResult) Merge(other FileValidationResult) {
	for _, e := range other.Errors {
		r.AddError(e)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
	if other.Encrypted {
		r.Encrypted = true
	}
	if r.Encoding == "" {
		r.Encoding = other.Encoding
	}
}

// Findings returns errors followed by warnings prefixed with "warning: ".
func (r FileValidationResult) Findings() []string {
	out := make([]string, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	for _, w := range r.Warnings {
		out = append(out, "warning: "+w)
	}
	return out
}
