package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectors_Registrable(t *testing.T) {
	// A fresh registry proves every collector is well-formed without
	// touching the default registry used by Init.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		ProbesTotal,
		ProbeDuration,
		ConnectionStatus,
		ConsecutiveFailures,
		SwitchesTotal,
		EventsTotal,
		CacheErrors,
		LimitedMode,
		AdminAuthFailures,
		AdminRateLimitHits,
		BreakerState,
		BreakerTransitions,
	)

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
}

func TestProbesTotal_Increment(t *testing.T) {
	ProbesTotal.WithLabelValues("primary", "success").Inc()
	ProbesTotal.WithLabelValues("primary", "failure").Inc()
	ProbesTotal.WithLabelValues("failover", "success").Inc()

	// Collecting again must not panic.
	ProbesTotal.WithLabelValues("primary", "success").Add(0)
}

func TestProbeDuration_Observe(t *testing.T) {
	ProbeDuration.WithLabelValues("primary").Observe(0.012)
	ProbeDuration.WithLabelValues("failover").Observe(1.8)
}

func TestConnectionStatus_Values(t *testing.T) {
	ConnectionStatus.WithLabelValues("primary").Set(1)   // healthy
	ConnectionStatus.WithLabelValues("failover").Set(-1) // down
	ConnectionStatus.WithLabelValues("primary").Set(0)   // unknown
}

func TestSwitchesTotal_Increment(t *testing.T) {
	SwitchesTotal.WithLabelValues("failover").Inc()
	SwitchesTotal.WithLabelValues("blocking").Inc()
}

func TestEventsTotal_Increment(t *testing.T) {
	EventsTotal.WithLabelValues("primary_down").Inc()
	EventsTotal.WithLabelValues("switched_to_failover").Inc()
	EventsTotal.WithLabelValues("cache_unavailable").Inc()
}

func TestLimitedMode_SetReset(t *testing.T) {
	LimitedMode.Set(1)
	LimitedMode.Set(0)
}

func TestAdminAuthFailures_Increment(t *testing.T) {
	AdminAuthFailures.WithLabelValues("missing_token").Inc()
	AdminAuthFailures.WithLabelValues("invalid_token").Inc()
	AdminAuthFailures.WithLabelValues("insufficient_scope").Inc()
}

func TestBreakerTransitions_Increment(t *testing.T) {
	BreakerTransitions.WithLabelValues("record_store", "closed", "open").Inc()
	BreakerState.WithLabelValues("record_store").Set(1)
}

func TestHandler_ReturnsPrometheusFormat(t *testing.T) {
	// Register with the default registry as the daemon does at startup.
	Init()

	// Touch a few collectors so labeled children appear in the output.
	ProbesTotal.WithLabelValues("primary", "success").Inc()
	ConnectionStatus.WithLabelValues("primary").Set(1)
	LimitedMode.Set(0)

	h := Handler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	bodyStr := string(body)

	for _, name := range []string{
		"dbfailover_probes_total",
		"dbfailover_connection_status",
		"dbfailover_limited_mode",
	} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
