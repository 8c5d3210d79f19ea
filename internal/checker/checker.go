// Package checker drives health evaluation sweeps: it probes every managed
// connection through the health store and then asks the failover coordinator
// to act on the refreshed picture. A Runner repeats sweeps on a configurable
// cadence.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NuxGame/dbfailover/internal/state"
)

// ErrUnknownConnection is returned when a check is requested for a name that
// is not one of the probed connections.
var ErrUnknownConnection = errors.New("checker: unknown connection")

// HealthUpdater runs a probe for one connection and persists the outcome.
type HealthUpdater interface {
	UpdateConnectionStatus(ctx context.Context, name string) (state.Status, int)
}

// Decider applies the failover policy and reports the chosen connection.
type Decider interface {
	DetermineAndSetConnection(ctx context.Context) (string, error)
}

// Report is the outcome of checking a single connection.
type Report struct {
	Connection string       `json:"connection"`
	Status     state.Status `json:"status"`
	Failures   int          `json:"consecutive_failures"`
}

// SweepResult is the outcome of a full evaluation sweep.
type SweepResult struct {
	Reports []Report `json:"connections"`
	Active  string   `json:"active_connection"`
}

// Checker evaluates connection health on demand.
type Checker struct {
	store  HealthUpdater
	coord  Decider
	names  []string
	logger *slog.Logger
}

// New creates a Checker over the given probed connection names. The slice
// order is preserved in sweep reports.
func New(store HealthUpdater, coord Decider, names []string, logger *slog.Logger) *Checker {
	return &Checker{store: store, coord: coord, names: names, logger: logger}
}

// Names returns the probed connection names.
func (c *Checker) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Check probes one connection and persists the result. Names outside the
// managed set are rejected so that a typo cannot create a phantom health
// record.
func (c *Checker) Check(ctx context.Context, name string) (Report, error) {
	for _, known := range c.names {
		if known == name {
			return c.report(ctx, name), nil
		}
	}
	return Report{}, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
}

// Sweep checks every managed connection and then applies the failover
// decision. The partial result is returned even when applying the decision
// fails.
func (c *Checker) Sweep(ctx context.Context) (SweepResult, error) {
	res := SweepResult{Reports: make([]Report, 0, len(c.names))}
	for _, name := range c.names {
		res.Reports = append(res.Reports, c.report(ctx, name))
	}

	active, err := c.coord.DetermineAndSetConnection(ctx)
	res.Active = active
	if err != nil {
		return res, fmt.Errorf("apply failover decision: %w", err)
	}
	return res, nil
}

func (c *Checker) report(ctx context.Context, name string) Report {
	status, failures := c.store.UpdateConnectionStatus(ctx, name)
	c.logger.Debug("connection checked",
		"connection", name,
		"status", status.String(),
		"consecutive_failures", failures)
	return Report{Connection: name, Status: status, Failures: failures}
}

// Runner repeats evaluation sweeps on a cadence. The cadence can be changed
// while the loop is running; configuration reloads use that to apply a new
// check interval without a restart.
type Runner struct {
	checker *Checker
	logger  *slog.Logger

	mu       sync.Mutex
	interval time.Duration

	kick   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// NewRunner creates a Runner sweeping at the given interval. Call Start to
// begin.
func NewRunner(c *Checker, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		checker:  c,
		logger:   logger,
		interval: interval,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately so the
// active connection settles right after startup.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
	r.logger.Info("health check loop started", "interval", r.Interval().String())
}

// Stop cancels any sweep in flight and waits for the loop to exit.
func (r *Runner) Stop() {
	r.cancel()
	close(r.stop)
	<-r.done
	r.logger.Info("health check loop stopped")
}

// Interval returns the current sweep cadence.
func (r *Runner) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// SetInterval changes the sweep cadence. The running loop re-arms its timer
// on the next wakeup.
func (r *Runner) SetInterval(d time.Duration) {
	r.mu.Lock()
	changed := d != r.interval
	r.interval = d
	r.mu.Unlock()

	if !changed {
		return
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
	r.logger.Info("check cadence updated", "interval", d.String())
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	// Fires immediately for the startup sweep.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-r.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.Interval())
		case <-timer.C:
			r.sweep(ctx)
			timer.Reset(r.Interval())
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	res, err := r.checker.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // shutting down
		}
		r.logger.Error("evaluation sweep failed", "error", err)
		return
	}
	r.logger.Debug("evaluation sweep complete", "active_connection", res.Active)
}
