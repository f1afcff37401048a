package entity

import (
	"time"

	"github.com/joseph-ayodele/docflow/constants"
)

// ProcessingOptions is the free-form configuration processors understand.
// Zero values mean "use the pipeline default".
type ProcessingOptions struct {
	Timeout    time.Duration      `json:"timeout,omitempty"`
	EnableOCR  *bool              `json:"enable_ocr,omitempty"`
	MaxPages   int                `json:"max_pages,omitempty"`
	Priority   constants.Priority `json:"priority,omitempty"`
	MaxRetries *int               `json:"max_retries,omitempty"`
	Language   string             `json:"language,omitempty"`
	// Relaxed marks options already widened by the retry-with-adjusted-options strategy.
	Relaxed bool `json:"relaxed,omitempty"`
}

// Clone copies pointer fields.
func (o ProcessingOptions) Clone() ProcessingOptions {
	c := o
	if o.EnableOCR != nil {
		v := *o.EnableOCR
		c.EnableOCR = &v
	}
	if o.MaxRetries != nil {
		v := *o.MaxRetries
		c.MaxRetries = &v
	}
	return c
}

// OCREnabled resolves the per-job toggle against the deployment default.
func (o ProcessingOptions) OCREnabled(deploymentDefault bool) bool {
	if !deploymentDefault {
		return false
	}
	if o.EnableOCR == nil {
		return true
	}
	return *o.EnableOCR
}

// FileInput is the byte buffer handed to processors and strategies.
type FileInput struct {
	Data     []byte
	FileName string
	Format   constants.Format
}

// Size returns the input length in bytes.
func (in FileInput) Size() int64 { return int64(len(in.Data)) }
