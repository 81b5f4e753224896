package engine

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/conveyorci/conveyor/backend/dynamo"
	"github.com/conveyorci/conveyor/pkg/data"
)

// Dispatcher periodically queries the store for due workflows and fans them
// out to the processor with bounded concurrency. It never surfaces
// per-workflow errors to its caller; a failed workflow step is logged and
// retried naturally on a later tick because the row stays due.
type Dispatcher struct {
	Log           logr.Logger
	Store         Store
	Processor     *Processor
	TickInterval  time.Duration
	MaxConcurrent int
	NowFunc       func() time.Time
}

// Run loops until ctx is cancelled. The tick in flight drains before Run
// returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Log.Info("starting dispatcher", "tickInterval", d.TickInterval, "maxConcurrent", d.MaxConcurrent)
	ticker := time.NewTicker(d.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Log.Info("dispatcher shutting down")
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs one dispatch iteration: query due workflows, process each, wait
// for all of them.
func (d *Dispatcher) tick(ctx context.Context) {
	ticksTotal.Inc()
	now := d.NowFunc()

	due, err := retry.DoWithData(
		func() ([]data.Workflow, error) {
			return d.Store.FindDue(ctx, now)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, dynamo.ErrTransient)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() == nil {
			d.Log.Error(err, "querying due workflows")
		}
		return
	}
	dueWorkflows.Set(float64(len(due)))
	if len(due) == 0 {
		return
	}
	d.Log.V(1).Info("dispatching due workflows", "count", len(due))

	g := errgroup.Group{}
	g.SetLimit(d.MaxConcurrent)
	for _, w := range due {
		g.Go(func() error {
			start := time.Now()
			err := d.Processor.Process(ctx, w)
			processDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				processedTotal.WithLabelValues(outcomeError).Inc()
				d.Log.Error(err, "processing workflow", "workflow", w.ID, "createdAt", w.CreatedAt.String())
				return nil
			}
			processedTotal.WithLabelValues(outcomeOK).Inc()
			return nil
		})
	}
	// Processor errors are logged above, never returned.
	_ = g.Wait()
}
