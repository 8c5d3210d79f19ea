// Package failover decides which database connection should be active. The
// coordinator reads the persisted health of the primary and failover
// connections, applies a fixed priority policy, pushes the winning
// connection to the connection manager, and emits switch events, remembering
// its last applied choice to keep repeated decisions quiet.
package failover

import (
	"context"
	"log/slog"
	"sync"

	"github.com/NuxGame/dbfailover/internal/metrics"
	"github.com/NuxGame/dbfailover/internal/notify"
	"github.com/NuxGame/dbfailover/internal/state"
)

// HealthStore is the slice of the state store the coordinator consumes.
type HealthStore interface {
	ConnectionStatus(ctx context.Context, name string) state.Status
	FailureCount(ctx context.Context, name string) int
	SetConnectionStatus(ctx context.Context, name string, status state.Status, failures int)
}

// ConnectionManager applies and reports the active connection.
type ConnectionManager interface {
	SetActive(name string) error
	Active() string
}

// Coordinator owns the failover decision. Its memory of the previously
// applied connection is process-local: a fresh coordinator always starts
// undecided and will emit a switch event on its first decision even if
// another process already applied the same one. Cross-process agreement
// comes only from the shared health records.
type Coordinator struct {
	store  HealthStore
	mgr    ConnectionManager
	bus    *notify.Bus
	roles  state.Roles
	logger *slog.Logger

	// mu guards prev. Decisions themselves read the store unserialized;
	// overlapping invocations may both resolve before either applies, and
	// the apply order decides which events fire.
	mu   sync.Mutex
	prev string // empty until the first applied decision
}

// NewCoordinator creates a Coordinator routing between the given roles.
func NewCoordinator(store HealthStore, mgr ConnectionManager, bus *notify.Bus, roles state.Roles, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		mgr:    mgr,
		bus:    bus,
		roles:  roles,
		logger: logger,
	}
}

// ResolveActiveConnection computes the connection that should be active
// right now, from the persisted health records alone:
//
//  1. both roles UNKNOWN with zero failures: primary (a cold or freshly
//     cleared store is read optimistically, not as an outage)
//  2. primary HEALTHY: primary
//  3. failover HEALTHY: failover
//  4. otherwise: blocking
//
// Primary always beats failover when both are healthy; failover is chosen
// only when primary is confirmedly not healthy.
func (c *Coordinator) ResolveActiveConnection(ctx context.Context) string {
	primaryStatus := c.store.ConnectionStatus(ctx, c.roles.Primary)
	failoverStatus := c.store.ConnectionStatus(ctx, c.roles.Failover)

	if primaryStatus == state.StatusUnknown && failoverStatus == state.StatusUnknown &&
		c.store.FailureCount(ctx, c.roles.Primary) == 0 &&
		c.store.FailureCount(ctx, c.roles.Failover) == 0 {
		return c.roles.Primary
	}
	if primaryStatus == state.StatusHealthy {
		return c.roles.Primary
	}
	if failoverStatus == state.StatusHealthy {
		return c.roles.Failover
	}
	return c.roles.Blocking
}

// DetermineAndSetConnection resolves the target connection and applies it if
// it differs from the previously applied one, emitting the matching switch
// or limited-functionality events. The resolved name is returned even when
// applying it failed; the error from the connection manager is the only
// failure this package propagates.
func (c *Coordinator) DetermineAndSetConnection(ctx context.Context) (string, error) {
	target := c.ResolveActiveConnection(ctx)
	c.logger.Debug("failover decision", "target", target)
	return target, c.apply(target)
}

// ForceSwitchToPrimary routes to the primary connection and resets both
// probed health records to HEALTHY. An operator forcing primary is declaring
// it trustworthy, so the records must agree or the next check cycle would
// immediately route away again.
func (c *Coordinator) ForceSwitchToPrimary(ctx context.Context) error {
	c.store.SetConnectionStatus(ctx, c.roles.Primary, state.StatusHealthy, 0)
	c.store.SetConnectionStatus(ctx, c.roles.Failover, state.StatusHealthy, 0)
	return c.apply(c.roles.Primary)
}

// ForceSwitchToFailover routes to the failover connection without touching
// any health record: the operator expresses a routing preference, not a
// probe result.
func (c *Coordinator) ForceSwitchToFailover(ctx context.Context) error {
	return c.apply(c.roles.Failover)
}

// CurrentActiveConnectionName returns the coordinator's last applied
// connection, falling back to the connection manager's configured active
// connection before the first decision.
func (c *Coordinator) CurrentActiveConnectionName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prev == "" {
		return c.mgr.Active()
	}
	return c.prev
}

// apply switches the active connection to target when it differs from the
// previously applied one. The switch is pushed to the connection manager
// first; on failure nothing is remembered and no event fires, so a later
// successful apply still announces the change.
func (c *Coordinator) apply(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prev == target {
		return nil
	}

	if err := c.mgr.SetActive(target); err != nil {
		return err
	}

	prev := c.prev
	c.prev = target
	c.emit(prev, target)
	return nil
}

// emit publishes the events for an applied switch from prev to target.
// Must be called with c.mu held.
func (c *Coordinator) emit(prev, target string) {
	fromBlocking := prev == c.roles.Blocking

	switch c.roles.Classify(target) {
	case state.RolePrimary:
		metrics.SwitchesTotal.WithLabelValues("primary").Inc()
		c.bus.Publish(notify.Event{Kind: notify.KindSwitchedToPrimary, Connection: target, Previous: prev})
		if fromBlocking {
			metrics.LimitedMode.Set(0)
			c.bus.Publish(notify.Event{Kind: notify.KindLimitedModeExited, Connection: target})
		}
	case state.RoleFailover:
		metrics.SwitchesTotal.WithLabelValues("failover").Inc()
		c.bus.Publish(notify.Event{Kind: notify.KindSwitchedToFailover, Connection: target, Previous: prev})
		if fromBlocking {
			metrics.LimitedMode.Set(0)
			c.bus.Publish(notify.Event{Kind: notify.KindLimitedModeExited, Connection: target})
		}
	default:
		// Moving onto the blocking connection. The differs-check above
		// guarantees prev was not already blocking, so this activation
		// fires exactly once per stay in limited functionality mode.
		metrics.SwitchesTotal.WithLabelValues("blocking").Inc()
		metrics.LimitedMode.Set(1)
		c.bus.Publish(notify.Event{Kind: notify.KindLimitedModeActivated, Connection: target})
	}
}
