package grpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultCheckInterval = 10 * time.Second
	defaultCheckTimeout  = 2 * time.Second
)

// Check probes one dependency of the service
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Reporter runs the dependency checks and publishes their outcome on the
// gRPC health service. Every check is a service name of its own; the empty
// service name is serving only while all checks pass.
type Reporter struct {
	health   *health.Server
	checks   []Check
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu   sync.Mutex
	last map[string]error
}

type ReporterOption func(*Reporter)

func WithInterval(d time.Duration) ReporterOption {
	return func(r *Reporter) { r.interval = d }
}

func WithLogger(l *slog.Logger) ReporterOption {
	return func(r *Reporter) { r.log = l }
}

func NewReporter(hs *health.Server, checks []Check, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		health:   hs,
		checks:   checks,
		interval: defaultCheckInterval,
		timeout:  defaultCheckTimeout,
		log:      slog.Default(),
		last:     make(map[string]error),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Probe runs every check concurrently and returns the result per name
func (r *Reporter) Probe(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(r.checks))
		g       errgroup.Group
	)
	for _, c := range r.checks {
		g.Go(func() error {
			err := c.Probe(ctx)
			mu.Lock()
			results[c.Name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Update probes once and sets the serving status of every check
func (r *Reporter) Update(ctx context.Context) {
	results := r.Probe(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	overall := healthpb.HealthCheckResponse_SERVING
	for name, err := range results {
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		prev, seen := r.last[name]
		if !seen || (prev == nil) != (err == nil) {
			if err != nil {
				r.log.Warn("dependency unhealthy", "check", name, "error", err)
			} else if seen {
				r.log.Info("dependency recovered", "check", name)
			}
		}
		r.last[name] = err
		r.health.SetServingStatus(name, status)
	}
	r.health.SetServingStatus("", overall)
}

// Run updates the health status on every interval until ctx is done
func (r *Reporter) Run(ctx context.Context) {
	r.Update(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Update(ctx)
		case <-ctx.Done():
			r.health.Shutdown()
			return
		}
	}
}
