// Package probe runs bounded liveness checks against named database
// connections. A probe is a single configured query under a per-call
// deadline; every failure mode (unresolvable connection, execution error,
// timeout) collapses to false so callers can drive the health state machine
// without caring why a target was unreachable.
package probe

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/NuxGame/dbfailover/internal/config"
	"github.com/NuxGame/dbfailover/internal/metrics"
)

// Resolver maps a connection name to a live database handle.
type Resolver interface {
	Resolve(name string) (*sql.DB, error)
}

// Prober executes liveness checks. It is stateless and safe for concurrent
// use; overlapping probes of the same connection are allowed.
type Prober struct {
	resolver Resolver
	query    string
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Prober using the configured liveness query and time budget.
func New(resolver Resolver, cfg config.ProbeConfig, logger *slog.Logger) *Prober {
	return &Prober{
		resolver: resolver,
		query:    cfg.Query,
		timeout:  cfg.Timeout(),
		logger:   logger,
	}
}

// IsHealthy reports whether the named connection answered the liveness query
// within the probe deadline. The deadline is scoped to this one query;
// pooled connections carry no narrowed timeout afterwards. IsHealthy never
// panics or returns an error: the reason for a failed probe is only visible
// in debug logs and metrics.
func (p *Prober) IsHealthy(ctx context.Context, name string) bool {
	start := time.Now()
	ok := p.run(ctx, name)

	metrics.ProbeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	result := "success"
	if !ok {
		result = "failure"
	}
	metrics.ProbesTotal.WithLabelValues(name, result).Inc()

	return ok
}

func (p *Prober) run(ctx context.Context, name string) bool {
	db, err := p.resolver.Resolve(name)
	if err != nil {
		p.logger.Debug("probe could not resolve connection", "connection", name, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, p.query)
	if err != nil {
		p.logger.Debug("probe query failed", "connection", name, "error", err)
		return false
	}
	rows.Close()

	return true
}
