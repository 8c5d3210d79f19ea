// Package admin provides the administrative HTTP API: runtime status
// inspection, on-demand health checks, forced switches, and health record
// maintenance. All endpoints sit behind an IP allowlist; bearer-token auth
// and rate limiting are layered on top by the server wiring.
package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/NuxGame/dbfailover/internal/apierror"
	"github.com/NuxGame/dbfailover/internal/auth"
	"github.com/NuxGame/dbfailover/internal/checker"
	"github.com/NuxGame/dbfailover/internal/config"
	"github.com/NuxGame/dbfailover/internal/state"
)

// HealthReader reads persisted health records without triggering probes.
type HealthReader interface {
	ConnectionStatus(ctx context.Context, name string) state.Status
	FailureCount(ctx context.Context, name string) int
	FlushAllStatuses(ctx context.Context)
	Roles() state.Roles
}

// Switcher forces failover transitions.
type Switcher interface {
	ForceSwitchToPrimary(ctx context.Context) error
	ForceSwitchToFailover(ctx context.Context) error
	CurrentActiveConnectionName() string
}

// Checks runs on-demand health evaluations.
type Checks interface {
	Check(ctx context.Context, name string) (checker.Report, error)
	Sweep(ctx context.Context) (checker.SweepResult, error)
	Names() []string
}

// PoolStats exposes database/sql pool statistics per connection.
type PoolStats interface {
	Stats(name string) (sql.DBStats, error)
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// Handler provides admin API endpoints.
type Handler struct {
	store       HealthReader
	switcher    Switcher
	checks      Checks
	pools       PoolStats
	provider    ConfigProvider
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(
	store HealthReader,
	switcher Switcher,
	checks Checks,
	pools PoolStats,
	provider ConfigProvider,
	allowlist []string,
	logger *slog.Logger,
) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		store:       store,
		switcher:    switcher,
		checks:      checks,
		pools:       pools,
		provider:    provider,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/status", h.guard(http.MethodGet, h.statusHandler))
	mux.HandleFunc("/admin/check", h.guard(http.MethodPost, h.checkHandler))
	mux.HandleFunc("/admin/switch-primary", h.guard(http.MethodPost, h.switchPrimaryHandler))
	mux.HandleFunc("/admin/switch-failover", h.guard(http.MethodPost, h.switchFailoverHandler))
	mux.HandleFunc("/admin/flush", h.guard(http.MethodPost, h.flushHandler))
	mux.HandleFunc("/admin/config", h.guard(http.MethodGet, h.configHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "method not allowed")
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteJSON(w, r, http.StatusForbidden, apierror.Forbidden, "source address not allowed")
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// connectionStatus is the per-connection entry in the /admin/status response.
type connectionStatus struct {
	Status              state.Status `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Pool                *poolStats   `json:"pool,omitempty"`
}

type poolStats struct {
	Open      int   `json:"open"`
	InUse     int   `json:"in_use"`
	Idle      int   `json:"idle"`
	WaitCount int64 `json:"wait_count"`
}

// statusHandler reports the persisted health picture. It reads records as-is
// and never triggers probes; use /admin/check for a fresh evaluation.
func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roles := h.store.Roles()
	active := h.switcher.CurrentActiveConnectionName()

	connections := make(map[string]connectionStatus, len(h.checks.Names()))
	for _, name := range h.checks.Names() {
		entry := connectionStatus{
			Status:              h.store.ConnectionStatus(ctx, name),
			ConsecutiveFailures: h.store.FailureCount(ctx, name),
		}
		if stats, err := h.pools.Stats(name); err == nil {
			entry.Pool = &poolStats{
				Open:      stats.OpenConnections,
				InUse:     stats.InUse,
				Idle:      stats.Idle,
				WaitCount: stats.WaitCount,
			}
		}
		connections[name] = entry
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_connection": active,
		"limited_mode":      active == roles.Blocking,
		"roles": map[string]string{
			"primary":  roles.Primary,
			"failover": roles.Failover,
			"blocking": roles.Blocking,
		},
		"connections": connections,
	})
}

// checkHandler runs an immediate evaluation. Without a connection parameter
// it sweeps every managed connection and applies the failover decision; with
// one it probes just that connection.
func (h *Handler) checkHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if name := r.URL.Query().Get("connection"); name != "" {
		report, err := h.checks.Check(ctx, name)
		if err != nil {
			if errors.Is(err, checker.ErrUnknownConnection) {
				apierror.WriteJSON(w, r, http.StatusNotFound, apierror.ConnectionNotFound, err.Error())
				return
			}
			apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	result, err := h.checks.Sweep(ctx)
	if err != nil {
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.SwitchFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) switchPrimaryHandler(w http.ResponseWriter, r *http.Request) {
	h.forceSwitch(w, r, "primary", h.switcher.ForceSwitchToPrimary)
}

func (h *Handler) switchFailoverHandler(w http.ResponseWriter, r *http.Request) {
	h.forceSwitch(w, r, "failover", h.switcher.ForceSwitchToFailover)
}

func (h *Handler) forceSwitch(w http.ResponseWriter, r *http.Request, target string, svc func(context.Context) error) {
	subject := ""
	if claims, ok := auth.FromContext(r.Context()); ok {
		subject = claims.Subject
	}

	if err := svc(r.Context()); err != nil {
		h.logger.Error("forced switch failed", "target", target, "subject", subject, "error", err)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.SwitchFailed, err.Error())
		return
	}

	h.logger.Info("forced switch applied",
		"target", target,
		"subject", subject,
		"client_ip", extractIP(r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]string{
		"active_connection": h.switcher.CurrentActiveConnectionName(),
	})
}

// flushHandler drops all persisted health records. Backends without bulk
// deletion support log a warning and the call still succeeds.
func (h *Handler) flushHandler(w http.ResponseWriter, r *http.Request) {
	h.store.FlushAllStatuses(r.Context())
	h.logger.Info("health records flushed", "client_ip", extractIP(r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// configHandler dumps the running configuration. Secrets (DSNs, passwords,
// the JWT secret) are excluded from serialization by their field tags.
func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Current())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
