// Package monitor audits the job store: statistics, health classification,
// stalled-job recovery and retention cleanup.
package monitor

import (
	"fmt"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// Thresholds drive health classification.
type Thresholds struct {
	DegradedSuccessRate  float64       // below this: degraded
	UnhealthySuccessRate float64       // below this: unhealthy
	MaxPendingAge        time.Duration // oldest pending older than this: degraded
	MaxPendingBacklog    int           // more pending jobs than this: degraded
	UnhealthyStalled     int           // more stalled jobs than this: unhealthy
}

// Config holds monitor settings.
type Config struct {
	StalledThreshold    time.Duration
	HealthCheckInterval time.Duration
	CountStallAsRetry   bool
	AutoRecover         bool
	RetentionWindow     time.Duration
	CleanupInterval     time.Duration
	Thresholds          Thresholds
}

// DefaultThresholds returns 90%/70% success, 10 minutes, 100 pending, 5 stalled.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedSuccessRate:  0.90,
		UnhealthySuccessRate: 0.70,
		MaxPendingAge:        10 * time.Minute,
		MaxPendingBacklog:    100,
		UnhealthyStalled:     5,
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		StalledThreshold:    5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		AutoRecover:         true,
		RetentionWindow:     7 * 24 * time.Hour,
		CleanupInterval:     time.Hour,
		Thresholds:          DefaultThresholds(),
	}
}

// FromCommon maps the environment config onto monitor settings.
func FromCommon(c common.MonitorConfig) Config {
	cfg := DefaultConfig()
	cfg.StalledThreshold = c.StalledThreshold
	cfg.HealthCheckInterval = c.HealthCheckInterval
	cfg.CountStallAsRetry = c.CountStallAsRetry
	cfg.AutoRecover = c.AutoRecover
	cfg.RetentionWindow = c.RetentionWindow
	cfg.CleanupInterval = c.CleanupInterval
	return cfg
}

func (c *Config) Validate() error {
	if c.StalledThreshold <= 0 {
		return fmt.Errorf("stalled threshold must be positive, got %v", c.StalledThreshold)
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive, got %v", c.HealthCheckInterval)
	}
	t := c.Thresholds
	if t.UnhealthySuccessRate < 0 || t.DegradedSuccessRate > 1 || t.UnhealthySuccessRate > t.DegradedSuccessRate {
		return fmt.Errorf("success thresholds must satisfy 0 <= unhealthy <= degraded <= 1, got %v and %v",
			t.UnhealthySuccessRate, t.DegradedSuccessRate)
	}
	return nil
}
