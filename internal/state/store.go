package state

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/NuxGame/dbfailover/internal/kv"
	"github.com/NuxGame/dbfailover/internal/metrics"
	"github.com/NuxGame/dbfailover/internal/notify"
)

// Probe runs one liveness check against a named connection.
type Probe interface {
	IsHealthy(ctx context.Context, name string) bool
}

// record is the persisted unit of health state. Records expire with the
// store TTL and silently revert to the unprobed default; there is no
// explicit deletion in the state machine.
type record struct {
	ConnectionName      string `json:"connection_name"`
	Status              Status `json:"status"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// StoreConfig carries the immutable state machine parameters.
type StoreConfig struct {
	// Roles classifies connection names for role-specific events.
	Roles Roles

	// FailureThreshold is the number of consecutive failed probes required
	// to mark a connection DOWN. Must be at least 1.
	FailureThreshold int

	// TTL is the lifetime of a persisted health record.
	TTL time.Duration

	// KeyPrefix namespaces health record keys in the shared store.
	KeyPrefix string
}

// Store turns probe results into persisted health records. All persistence
// failures are absorbed: read operations return safe defaults (UNKNOWN, 0)
// and every failing store call publishes a single cache-unavailable event,
// so callers never handle a persistence error themselves.
//
// Store performs no locking around its read-increment-write of the failure
// count. Concurrent probes of the same connection may lose one increment per
// race, which only delays the threshold by one probe cycle; a strict atomic
// counter would change the observable timing of down events.
type Store struct {
	kv     kv.Store
	probe  Probe
	bus    *notify.Bus
	cfg    StoreConfig
	logger *slog.Logger
}

// NewStore creates a Store persisting through kvs and probing through probe.
func NewStore(kvs kv.Store, probe Probe, bus *notify.Bus, cfg StoreConfig, logger *slog.Logger) *Store {
	return &Store{
		kv:     kvs,
		probe:  probe,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
	}
}

// Roles returns the configured role names.
func (s *Store) Roles() Roles {
	return s.cfg.Roles
}

// UpdateConnectionStatus probes the named connection and advances its health
// record:
//
//	probe ok                        -> HEALTHY, count 0
//	probe fail, count < threshold   -> UNKNOWN, count incremented
//	probe fail, count >= threshold  -> DOWN, count incremented
//
// A success always emits a connection-healthy event, plus a role-specific
// restored event when the connection was previously DOWN. Reaching the
// threshold emits a role-specific down event once; further failures while
// DOWN only refresh the persisted record. The new status and count are
// returned for reporting.
func (s *Store) UpdateConnectionStatus(ctx context.Context, name string) (Status, int) {
	healthy := s.probe.IsHealthy(ctx, name)
	prev, prevCount := s.read(ctx, name)

	if healthy {
		s.write(ctx, name, StatusHealthy, 0)
		s.bus.Publish(notify.Event{Kind: notify.KindConnectionHealthy, Connection: name})
		if prev == StatusDown {
			switch s.cfg.Roles.Classify(name) {
			case RolePrimary:
				s.bus.Publish(notify.Event{Kind: notify.KindPrimaryRestored, Connection: name})
			case RoleFailover:
				s.bus.Publish(notify.Event{Kind: notify.KindFailoverRestored, Connection: name})
			}
		}
		return StatusHealthy, 0
	}

	count := prevCount + 1
	if count >= s.cfg.FailureThreshold {
		s.write(ctx, name, StatusDown, count)
		if prev != StatusDown {
			switch s.cfg.Roles.Classify(name) {
			case RolePrimary:
				s.bus.Publish(notify.Event{Kind: notify.KindPrimaryDown, Connection: name})
			case RoleFailover:
				s.bus.Publish(notify.Event{Kind: notify.KindFailoverDown, Connection: name})
			}
		}
		return StatusDown, count
	}

	s.write(ctx, name, StatusUnknown, count)
	return StatusUnknown, count
}

// ConnectionStatus returns the persisted status of the named connection.
// Absent or expired records read as UNKNOWN without an event; store failures
// and corrupted records read as UNKNOWN with a cache-unavailable event.
func (s *Store) ConnectionStatus(ctx context.Context, name string) Status {
	status, _ := s.read(ctx, name)
	return status
}

// FailureCount returns the persisted consecutive failure count of the named
// connection, 0 when the record is absent or unreadable.
func (s *Store) FailureCount(ctx context.Context, name string) int {
	_, count := s.read(ctx, name)
	return count
}

// SetConnectionStatus overwrites the health record unconditionally. It is an
// administrative primitive: no health or down events are emitted, only the
// record changes. Callers wanting transition semantics use
// UpdateConnectionStatus.
func (s *Store) SetConnectionStatus(ctx context.Context, name string, status Status, failures int) {
	s.write(ctx, name, status, failures)
}

// IsConnectionHealthy reports whether the persisted status is HEALTHY.
func (s *Store) IsConnectionHealthy(ctx context.Context, name string) bool {
	return s.ConnectionStatus(ctx, name) == StatusHealthy
}

// IsConnectionDown reports whether the persisted status is DOWN.
func (s *Store) IsConnectionDown(ctx context.Context, name string) bool {
	return s.ConnectionStatus(ctx, name) == StatusDown
}

// IsConnectionUnknown reports whether the persisted status is UNKNOWN.
func (s *Store) IsConnectionUnknown(ctx context.Context, name string) bool {
	return s.ConnectionStatus(ctx, name) == StatusUnknown
}

// FlushAllStatuses clears every persisted health record, reverting all
// connections to the unprobed default. Stores without bulk clearing are
// logged and skipped; the flush never fails the caller.
func (s *Store) FlushAllStatuses(ctx context.Context) {
	flusher, ok := s.kv.(kv.Flusher)
	if !ok {
		s.logger.Warn("health record store does not support bulk clearing; skipping flush")
		return
	}
	if err := flusher.FlushPrefix(ctx, s.cfg.KeyPrefix); err != nil {
		s.cacheUnavailable("flush", "", err)
		return
	}
	s.logger.Info("health records flushed", "prefix", s.cfg.KeyPrefix)
}

func (s *Store) key(name string) string {
	return s.cfg.KeyPrefix + name
}

// read loads a health record, mapping every failure mode to the safe
// default. Only true persistence failures (unreachable store, corrupted
// record) publish a cache-unavailable event; clean absence does not.
func (s *Store) read(ctx context.Context, name string) (Status, int) {
	raw, err := s.kv.Get(ctx, s.key(name))
	if errors.Is(err, kv.ErrNotFound) {
		return StatusUnknown, 0
	}
	if err != nil {
		s.cacheUnavailable("get", name, err)
		return StatusUnknown, 0
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.cacheUnavailable("decode", name, err)
		return StatusUnknown, 0
	}
	return rec.Status, rec.ConsecutiveFailures
}

// write persists a health record under the store TTL, absorbing failures.
func (s *Store) write(ctx context.Context, name string, status Status, failures int) {
	raw, err := json.Marshal(record{
		ConnectionName:      name,
		Status:              status,
		ConsecutiveFailures: failures,
	})
	if err != nil {
		s.cacheUnavailable("encode", name, err)
		return
	}

	if err := s.kv.Put(ctx, s.key(name), raw, s.cfg.TTL); err != nil {
		s.cacheUnavailable("put", name, err)
		return
	}

	metrics.ConnectionStatus.WithLabelValues(name).Set(statusGaugeValue(status))
	metrics.ConsecutiveFailures.WithLabelValues(name).Set(float64(failures))
}

// cacheUnavailable records one failing store operation: a metrics increment
// and a single published event carrying the cause.
func (s *Store) cacheUnavailable(op, name string, err error) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	s.bus.Publish(notify.Event{Kind: notify.KindCacheUnavailable, Connection: name, Err: err})
}

func statusGaugeValue(status Status) float64 {
	switch status {
	case StatusHealthy:
		return 1
	case StatusDown:
		return -1
	default:
		return 0
	}
}
