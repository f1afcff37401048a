package entity

import (
	"fmt"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
)

// FileMetadata is the structural metadata a processor can recover from a document.
type FileMetadata struct {
	FileName   string            `json:"file_name,omitempty"`
	FileSize   int64             `json:"file_size"`
	Format     constants.Format  `json:"format,omitempty"`
	MimeType   string            `json:"mime_type,omitempty"`
	PageCount  int               `json:"page_count,omitempty"`
	WordCount  int               `json:"word_count,omitempty"`
	Title      string            `json:"title,omitempty"`
	Author     string            `json:"author,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Producer   string            `json:"producer,omitempty"`
	CreatedAt  *time.Time        `json:"created_at,omitempty"`
	ModifiedAt *time.Time        `json:"modified_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ProcessingError is the structured failure record attached to a result or job.
// Recoverable reflects whether this failure class is worth a fallback or retry.
type ProcessingError struct {
	Code        constants.ErrorCode `json:"code"`
	Message     string              `json:"message"`
	Recoverable bool                `json:"recoverable"`
	Details     []string            `json:"details,omitempty"`
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Transient reports whether the failure came from the environment, not the document.
func (e *ProcessingError) Transient() bool {
	return e != nil && e.Recoverable && e.Code.IsTransient()
}

// NewProcessingError builds an error whose recoverability follows from its code.
func NewProcessingError(code constants.ErrorCode, format string, args ...any) *ProcessingError {
	return &ProcessingError{
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: recoverableByDefault(code),
	}
}

func recoverableByDefault(code constants.ErrorCode) bool {
	switch code {
	case constants.ErrCodeValidation, constants.ErrCodeUnsupported, constants.ErrCodeEncrypted:
		return false
	}
	return true
}

// ProcessingResult is what a processor or fallback strategy produces.
type ProcessingResult struct {
	Success  bool             `json:"success"`
	Text     string           `json:"text,omitempty"`
	Metadata FileMetadata     `json:"metadata"`
	Source   string           `json:"source,omitempty"`
	Attempts []string         `json:"attempts,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Duration time.Duration    `json:"duration"`
	Error    *ProcessingError `json:"error,omitempty"`
}

// Clone returns a copy with independent slices and maps.
func (r ProcessingResult) Clone() ProcessingResult {
	c := r
	c.Attempts = append([]string(nil), r.Attempts...)
	c.Warnings = append([]string(nil), r.Warnings...)
	if r.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(r.Metadata.Extra))
		for k, v := range r.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return c
}

// TextLength counts runes, which is what the acceptance threshold is measured in.
func (r ProcessingResult) TextLength() int {
	return len([]rune(r.Text))
}

// Failed builds an unsuccessful result carrying err.
func Failed(source string, err *ProcessingError) ProcessingResult {
	return ProcessingResult{Success: false, Source: source, Error: err}
}
