// Package options validates and decodes the processing-options bag callers attach to a submission.
package options

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Limits on caller-supplied values.
const (
	MaxTimeout    = 30 * time.Minute
	MaxPagesLimit = 10000
	MaxRetryLimit = 10
)

// Wire is the JSON shape of the options bag.
type Wire struct {
	TimeoutMS  *int64  `json:"timeout_ms,omitempty"`
	EnableOCR  *bool   `json:"enable_ocr,omitempty"`
	MaxPages   *int    `json:"max_pages,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	MaxRetries *int    `json:"max_retries,omitempty"`
	Language   *string `json:"language,omitempty"`
}

// BuildOptionsJSONSchema returns the JSON-Schema for the options bag as a generic map.
func BuildOptionsJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"timeout_ms":  map[string]any{"type": "integer", "minimum": 1, "maximum": MaxTimeout.Milliseconds()},
			"enable_ocr":  map[string]any{"type": "boolean"},
			"max_pages":   map[string]any{"type": "integer", "minimum": 0, "maximum": MaxPagesLimit},
			"priority":    map[string]any{"type": "string", "enum": []string{"low", "normal", "high"}},
			"max_retries": map[string]any{"type": "integer", "minimum": 0, "maximum": MaxRetryLimit},
			"language":    map[string]any{"type": "string", "pattern": `^[a-z]{3}(\+[a-z]{3})*$`},
		},
	}
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(BuildOptionsJSONSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("options.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile("options.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Validate checks raw JSON against the options schema.
func Validate(data []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal options: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("options do not match schema: %w", err)
	}
	return nil
}

// Decode validates data and converts it to ProcessingOptions. Empty input yields zero options.
func Decode(data []byte) (entity.ProcessingOptions, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return entity.ProcessingOptions{}, nil
	}
	if err := Validate(data); err != nil {
		return entity.ProcessingOptions{}, err
	}
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return entity.ProcessingOptions{}, fmt.Errorf("decode options: %w", err)
	}
	return w.Options(), nil
}

// Options converts the wire form.
func (w Wire) Options() entity.ProcessingOptions {
	var o entity.ProcessingOptions
	if w.TimeoutMS != nil {
		o.Timeout = time.Duration(*w.TimeoutMS) * time.Millisecond
	}
	if w.EnableOCR != nil {
		v := *w.EnableOCR
		o.EnableOCR = &v
	}
	if w.MaxPages != nil {
		o.MaxPages = *w.MaxPages
	}
	if w.Priority != nil {
		o.Priority, _ = constants.ParsePriority(*w.Priority)
	}
	if w.MaxRetries != nil {
		v := *w.MaxRetries
		o.MaxRetries = &v
	}
	if w.Language != nil {
		o.Language = *w.Language
	}
	return o
}

// FromOptions is the inverse of Options, used when echoing a job's options.
func FromOptions(o entity.ProcessingOptions) Wire {
	var w Wire
	if o.Timeout > 0 {
		ms := o.Timeout.Milliseconds()
		w.TimeoutMS = &ms
	}
	w.EnableOCR = o.EnableOCR
	if o.MaxPages > 0 {
		w.MaxPages = &o.MaxPages
	}
	if o.Priority != "" {
		p := string(o.Priority)
		w.Priority = &p
	}
	w.MaxRetries = o.MaxRetries
	if o.Language != "" {
		w.Language = &o.Language
	}
	return w
}
