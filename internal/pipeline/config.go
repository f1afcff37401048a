// Package pipeline ties validation, processing, fallback, retry and progress
// together around the job store.
package pipeline

import (
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
)

// Config holds the orchestrator knobs.
type Config struct {
	MaxConcurrentJobs int
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	PollInterval      time.Duration
	EventBuffer       int
	OCREnabled        bool
}

// DefaultConfig returns 4 workers, 2 minute timeout, 3 retries, 1s polling.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 4,
		DefaultTimeout:    2 * time.Minute,
		DefaultMaxRetries: 3,
		PollInterval:      time.Second,
		EventBuffer:       1024,
	}
}

// FromCommon maps the environment config onto orchestrator settings.
func FromCommon(c common.PipelineConfig) Config {
	cfg := Config{
		MaxConcurrentJobs: c.MaxConcurrentJobs,
		DefaultTimeout:    c.DefaultTimeout,
		DefaultMaxRetries: c.DefaultMaxRetries,
		PollInterval:      c.PollInterval,
		EventBuffer:       c.EventBuffer,
		OCREnabled:        c.OCREnabled,
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = d.MaxConcurrentJobs
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.EventBuffer < 0 {
		c.EventBuffer = 0
	}
	return c
}

type costModel struct {
	base  time.Duration
	perMB time.Duration
}

var formatCost = map[constants.Format]costModel{
	constants.FormatPDF:  {base: 500 * time.Millisecond, perMB: 2 * time.Second},
	constants.FormatDOCX: {base: 200 * time.Millisecond, perMB: time.Second},
	constants.FormatXLSX: {base: 300 * time.Millisecond, perMB: 1500 * time.Millisecond},
	constants.FormatTXT:  {base: 50 * time.Millisecond, perMB: 100 * time.Millisecond},
}

// EstimateDuration is a size and format heuristic recorded at submission.
func EstimateDuration(size int64, format constants.Format) time.Duration {
	cost, ok := formatCost[format]
	if !ok {
		cost = costModel{base: time.Second, perMB: 2 * time.Second}
	}
	mb := float64(size) / float64(1<<20)
	return cost.base + time.Duration(mb*float64(cost.perMB))
}
