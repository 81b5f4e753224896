// Package engine runs the rollout loop: a dispatcher wakes on a fixed tick,
// asks the store for due workflows, and fans each one out to a processor that
// advances it one step against the CI provider. The engine also serves the
// inbound JSON API, a healthcheck and Prometheus metrics over HTTP.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/conveyorci/conveyor/ci/github"
	"github.com/conveyorci/conveyor/engine/internal/api"
	"github.com/conveyorci/conveyor/pkg/data"
	"github.com/conveyorci/conveyor/pkg/http/handler"
	"github.com/conveyorci/conveyor/pkg/http/middleware"
	"github.com/conveyorci/conveyor/pkg/http/server"
)

const (
	// DefaultTickInterval is how often the dispatcher looks for due
	// workflows.
	DefaultTickInterval = 5 * time.Second
	// DefaultEmptyRunTimeout is how long a running environment may go
	// without any observed CI runs before it is treated as vacuously
	// successful.
	DefaultEmptyRunTimeout = 5 * time.Minute
	// DefaultMaxConcurrent caps simultaneously running processor tasks.
	DefaultMaxConcurrent = 16
)

// Store is the durable workflow store the engine drives. Implemented by
// backend/dynamo; tests inject fakes.
type Store interface {
	PutNew(ctx context.Context, w data.Workflow) error
	ListByRepo(ctx context.Context, owner, repo string) ([]data.Workflow, error)
	FindDue(ctx context.Context, now time.Time) ([]data.Workflow, error)
	AdvanceEnvironment(ctx context.Context, w data.Workflow, envs []data.Environment, due data.Time) (data.Workflow, error)
	FailEnvironment(ctx context.Context, w data.Workflow, envs []data.Environment, due data.Time) (data.Workflow, error)
	MarkDone(ctx context.Context, w data.Workflow, final data.Status) error
	SetStatus(ctx context.Context, w data.Workflow, from, to data.Status) (data.Workflow, error)
	SetDue(ctx context.Context, w data.Workflow, due data.Time) (data.Workflow, error)
}

// CI is the surface of the CI provider the engine consumes. Implemented by
// ci/github.
type CI interface {
	CreateDeployment(ctx context.Context, req github.CreateDeploymentRequest) (int64, error)
	UpdateDeploymentStatus(ctx context.Context, owner, repo string, deploymentID int64, state string) error
	ListRuns(ctx context.Context, owner, repo, sha, event string) ([]github.Run, error)
}

// Config is the engine configuration.
type Config struct {
	Store           Store
	CI              CI
	TickInterval    time.Duration
	EmptyRunTimeout time.Duration
	MaxConcurrent   int
	// BindAddr/BindPort are the HTTP listen address for the API, healthcheck
	// and metrics. The HTTP surface is disabled when BindPort is zero.
	BindAddr string
	BindPort int
}

// Option is a functional option for the engine Config.
type Option func(*Config)

// WithStore sets the workflow store.
func WithStore(s Store) Option {
	return func(c *Config) {
		c.Store = s
	}
}

// WithCI sets the CI provider client.
func WithCI(ci CI) Option {
	return func(c *Config) {
		c.CI = ci
	}
}

// WithTickInterval sets the dispatcher tick interval.
func WithTickInterval(d time.Duration) Option {
	return func(c *Config) {
		c.TickInterval = d
	}
}

// WithEmptyRunTimeout sets the vacuous-success timeout.
func WithEmptyRunTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.EmptyRunTimeout = d
	}
}

// WithMaxConcurrent caps simultaneously running processor tasks.
func WithMaxConcurrent(n int) Option {
	return func(c *Config) {
		c.MaxConcurrent = n
	}
}

// WithBindAddrPort sets the HTTP listen address.
func WithBindAddrPort(addr string, port int) Option {
	return func(c *Config) {
		c.BindAddr = addr
		c.BindPort = port
	}
}

// NewConfig returns a Config with defaults applied, modified by the options.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		TickInterval:    DefaultTickInterval,
		EmptyRunTimeout: DefaultEmptyRunTimeout,
		MaxConcurrent:   DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the dispatcher loop and the HTTP surface until ctx is cancelled.
func (c *Config) Start(ctx context.Context, log logr.Logger) error {
	if c.Store == nil {
		return fmt.Errorf("engine requires a store")
	}
	if c.CI == nil {
		return fmt.Errorf("engine requires a CI client")
	}

	svc := &Service{Log: log, Store: c.Store, NowFunc: time.Now}
	d := &Dispatcher{
		Log:           log,
		Store:         c.Store,
		TickInterval:  c.TickInterval,
		MaxConcurrent: c.MaxConcurrent,
		NowFunc:       time.Now,
		Processor: &Processor{
			Log:             log,
			Store:           c.Store,
			CI:              c.CI,
			NowFunc:         time.Now,
			EmptyRunTimeout: c.EmptyRunTimeout,
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(ctx)
	})
	if c.BindPort != 0 {
		g.Go(func() error {
			return c.serveHTTP(ctx, log, svc)
		})
	}

	return g.Wait()
}

func (c *Config) serveHTTP(ctx context.Context, log logr.Logger, svc *Service) error {
	routes := server.Routes{}
	routes.Register("/api/v1/", api.Handler(log, svc), "workflow API")
	routes.Register("GET /healthcheck", handler.HealthCheck(log, time.Now()), "health and build info")
	routes.Register("GET /metrics", promhttp.Handler(), "prometheus metrics")

	mux := http.NewServeMux()
	routes.RegisterAll(mux)

	chain := middleware.Recovery(log)(middleware.RequestMetrics()(middleware.Logging(log)(mux)))

	srv := &server.Config{
		BindAddr: c.BindAddr,
		BindPort: c.BindPort,
	}
	log.Info("starting http server", "addr", fmt.Sprintf("%s:%d", c.BindAddr, c.BindPort), "routes", routes.Patterns())

	return srv.Serve(ctx, log, chain)
}
