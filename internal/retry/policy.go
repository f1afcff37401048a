// Package retry computes backoff delays and requeues failed jobs.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// Policy is exponential backoff with symmetric jitter:
// delay = min(Initial * Multiplier^retryCount, Max) ± delay*Jitter.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64

	mu   sync.Mutex
	rand func() float64
}

// DefaultPolicy returns 1s initial, 60s cap, doubling, 10% jitter.
func DefaultPolicy() *Policy {
	return NewPolicy(common.RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	})
}

func NewPolicy(cfg common.RetryConfig) *Policy {
	p := &Policy{
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		JitterFactor: cfg.JitterFactor,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())).Float64,
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	return p
}

// WithRand swaps the jitter source; fn must return values in [0,1).
func (p *Policy) WithRand(fn func() float64) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rand = fn
	return p
}

// BaseDelay is the un-jittered delay, non-decreasing in retryCount.
func (p *Policy) BaseDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryCount))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 1) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Delay is BaseDelay with a uniform offset in [-base*jitter, +base*jitter].
func (p *Policy) Delay(retryCount int) time.Duration {
	base := p.BaseDelay(retryCount)
	if p.JitterFactor == 0 {
		return base
	}
	p.mu.Lock()
	u := p.rand()
	p.mu.Unlock()
	spread := float64(base) * p.JitterFactor
	return base + time.Duration((2*u-1)*spread)
}

// Bounds returns the closed interval Delay(retryCount) always falls in.
func (p *Policy) Bounds(retryCount int) (time.Duration, time.Duration) {
	base := float64(p.BaseDelay(retryCount))
	return time.Duration(base * (1 - p.JitterFactor)), time.Duration(base * (1 + p.JitterFactor))
}
