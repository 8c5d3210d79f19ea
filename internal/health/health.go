// Package health provides liveness and readiness probe HTTP handlers for the
// failover daemon itself. Database health is a separate concern served by the
// admin API; readiness here answers whether the daemon can do its job, which
// hinges on the health record store being reachable.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const (
	readinessCacheTTL = 5 * time.Second
	pingTimeout       = 2 * time.Second
)

// Pinger reports whether the health record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ActiveReporter names the currently applied connection.
type ActiveReporter interface {
	CurrentActiveConnectionName() string
}

// Handler provides /health and /ready endpoints.
type Handler struct {
	store  Pinger
	active ActiveReporter
	logger *slog.Logger

	// Cached readiness result to avoid pinging the record store on
	// every /ready poll. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a new health check Handler.
func New(store Pinger, active ActiveReporter, logger *slog.Logger) *Handler {
	return &Handler{store: store, active: active, logger: logger}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	h.cacheMu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	pingErr := h.store.Ping(ctx)
	cancel()

	httpStatus := http.StatusOK
	statusStr := "ready"
	storeStr := "ok"
	if pingErr != nil {
		h.logger.Warn("health record store unreachable", "error", pingErr)
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
		storeStr = "unreachable"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status":            statusStr,
		"health_store":      storeStr,
		"active_connection": h.active.CurrentActiveConnectionName(),
	})
	body = append(body, '\n')

	// Cache the result.
	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}
