package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_dispatcher_ticks_total",
		Help: "Count of dispatcher tick iterations",
	})

	dueWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_dispatcher_due_workflows",
		Help: "Number of due workflows returned by the most recent tick",
	})

	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_processor_workflows_total",
		Help: "Count of processed workflow steps by outcome",
	}, []string{"outcome"})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_processor_step_duration_seconds",
		Help:    "Histogram of per-workflow processing step duration in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
)
