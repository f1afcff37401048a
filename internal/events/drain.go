package events

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Drainer reads the pipeline's event channel and fans each event out to the
// sinks. A failing sink is logged and does not hold back the others.
type Drainer struct {
	sinks     []Sink
	logger    *slog.Logger
	delivered atomic.Int64
	failed    atomic.Int64
}

func NewDrainer(logger *slog.Logger, sinks ...Sink) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{sinks: sinks, logger: logger}
}

// Run blocks until the channel is closed or ctx is done, then closes the sinks.
func (d *Drainer) Run(ctx context.Context, ch <-chan entity.Event) error {
	defer d.closeSinks()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				d.logger.Info("event stream closed", "delivered", d.delivered.Load(), "failed", d.failed.Load())
				return nil
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Drainer) dispatch(ctx context.Context, ev entity.Event) {
	for _, s := range d.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			d.failed.Add(1)
			d.logger.Warn("event sink failed", "sink", s.Name(), "event", string(ev.Type), "job_id", ev.JobID, "error", err)
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Drainer) closeSinks() {
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.logger.Warn("failed to close event sink", "sink", s.Name(), "error", err)
		}
	}
}

// Delivered and Failed count sink deliveries, one per event per sink.
func (d *Drainer) Delivered() int64 { return d.delivered.Load() }
func (d *Drainer) Failed() int64    { return d.failed.Load() }
