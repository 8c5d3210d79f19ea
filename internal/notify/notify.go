// Package notify delivers failover lifecycle events to registered
// subscribers. Events are published synchronously in subscription order so
// that host applications observe state changes before the next check cycle
// begins.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NuxGame/dbfailover/internal/metrics"
)

// Kind identifies the class of a failover event.
type Kind int

const (
	KindConnectionHealthy    Kind = iota // A monitored connection probed healthy.
	KindPrimaryDown                      // The primary connection was marked DOWN.
	KindFailoverDown                     // The failover connection was marked DOWN.
	KindPrimaryRestored                  // The primary connection recovered from DOWN.
	KindFailoverRestored                 // The failover connection recovered from DOWN.
	KindSwitchedToPrimary                // The active connection changed to the primary.
	KindSwitchedToFailover               // The active connection changed to the failover.
	KindLimitedModeActivated             // Both databases unusable; blocking connection activated.
	KindLimitedModeExited                // A real database became usable again.
	KindCacheUnavailable                 // The health state store could not be reached.
)

// String returns a stable, human-readable event kind name.
func (k Kind) String() string {
	switch k {
	case KindConnectionHealthy:
		return "connection_healthy"
	case KindPrimaryDown:
		return "primary_down"
	case KindFailoverDown:
		return "failover_down"
	case KindPrimaryRestored:
		return "primary_restored"
	case KindFailoverRestored:
		return "failover_restored"
	case KindSwitchedToPrimary:
		return "switched_to_primary"
	case KindSwitchedToFailover:
		return "switched_to_failover"
	case KindLimitedModeActivated:
		return "limited_mode_activated"
	case KindLimitedModeExited:
		return "limited_mode_exited"
	case KindCacheUnavailable:
		return "cache_unavailable"
	default:
		return "unknown"
	}
}

// Event describes a single failover lifecycle occurrence.
type Event struct {
	// Kind classifies the event.
	Kind Kind

	// Connection is the connection the event concerns, when applicable.
	// For switch events this is the new active connection.
	Connection string

	// Previous is the previously active connection for switch events,
	// empty otherwise.
	Previous string

	// Err carries the underlying cause for cache unavailability events,
	// nil otherwise.
	Err error

	// At is the time the event was published. Stamped by the bus if zero.
	At time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block for long.
type Handler func(Event)

// Bus fans events out to subscribers. Every published event is also logged
// and counted, so a bus with no subscribers still leaves an audit trail.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

// NewBus creates an event bus that logs through the given logger.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a handler for all subsequent events. Handlers are
// invoked in subscription order and cannot be removed.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every subscriber, stamping the publish time
// if the caller left it zero.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	metrics.EventsTotal.WithLabelValues(e.Kind.String()).Inc()
	b.log(e)

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// log writes the event to the structured log at a severity matching its kind.
func (b *Bus) log(e Event) {
	attrs := []any{"kind", e.Kind.String()}
	if e.Connection != "" {
		attrs = append(attrs, "connection", e.Connection)
	}
	if e.Previous != "" {
		attrs = append(attrs, "previous", e.Previous)
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}

	switch e.Kind {
	case KindPrimaryDown, KindFailoverDown, KindSwitchedToFailover:
		b.logger.Warn("failover event", attrs...)
	case KindLimitedModeActivated, KindCacheUnavailable:
		b.logger.Error("failover event", attrs...)
	default:
		b.logger.Info("failover event", attrs...)
	}
}
