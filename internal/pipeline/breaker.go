package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

var errTransientResult = errors.New("transient processing failure")

// BreakerSettings configures the per-format circuit breakers.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probes may run while half open.
	HalfOpenRequests uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1}
}

// Breakers holds one circuit breaker per format. Only transient failures count
// toward tripping; a corrupt document says nothing about the processor's health.
type Breakers struct {
	mu       sync.Mutex
	byFormat map[constants.Format]*gobreaker.CircuitBreaker
	settings BreakerSettings
	logger   *slog.Logger
}

func NewBreakers(settings BreakerSettings, logger *slog.Logger) *Breakers {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	return &Breakers{byFormat: make(map[constants.Format]*gobreaker.CircuitBreaker), settings: settings, logger: logger}
}

func (b *Breakers) get(format constants.Format) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byFormat[format]; ok {
		return cb
	}
	trip := b.settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(format),
		MaxRequests: b.settings.HalfOpenRequests,
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, errTransientResult)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("processor circuit changed state", "format", name, "from", from.String(), "to", to.String())
		},
	})
	b.byFormat[format] = cb
	return cb
}

// Run calls fn through the format's breaker. An open breaker returns a
// CIRCUIT_OPEN failure without calling fn.
func (b *Breakers) Run(format constants.Format, fn func() entity.ProcessingResult) entity.ProcessingResult {
	out, err := b.get(format).Execute(func() (interface{}, error) {
		res := fn()
		if res.Error != nil && res.Error.Transient() {
			return res, errTransientResult
		}
		return res, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return entity.Failed(string(format), entity.NewProcessingError(constants.ErrCodeCircuitOpen,
			"%s processor circuit is open: %v", format, err))
	}
	res, _ := out.(entity.ProcessingResult)
	return res
}

// State reports the breaker state for format.
func (b *Breakers) State(format constants.Format) string {
	return b.get(format).State().String()
}
