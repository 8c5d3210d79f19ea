package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/NuxGame/dbfailover/internal/admin"
	"github.com/NuxGame/dbfailover/internal/auth"
	"github.com/NuxGame/dbfailover/internal/checker"
	"github.com/NuxGame/dbfailover/internal/config"
	"github.com/NuxGame/dbfailover/internal/health"
	"github.com/NuxGame/dbfailover/internal/logging"
	"github.com/NuxGame/dbfailover/internal/metrics"
	"github.com/NuxGame/dbfailover/internal/middleware"
	"github.com/NuxGame/dbfailover/internal/ratelimit"
	"github.com/NuxGame/dbfailover/internal/tlsutil"
)

// runDaemon starts the failover manager daemon and blocks until SIGINT or
// SIGTERM.
func runDaemon(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, level, logOut, err := logging.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer logOut.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"cache_backend", cfg.Cache.Backend,
		"primary", cfg.Failover.PrimaryConnection,
		"failover", cfg.Failover.FailoverConnection,
		"failure_threshold", cfg.Failover.FailureThreshold,
		"check_interval", cfg.Check.Interval(),
		"failover_enabled", cfg.Failover.IsEnabled(),
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
	)

	// Initialize Prometheus metrics
	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	core, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	// Periodic health check loop. The first sweep runs immediately so the
	// routing decision is settled before traffic relies on it.
	runner := checker.NewRunner(core.checks, cfg.Check.Interval(), logger)
	if cfg.Failover.IsEnabled() {
		runner.Start()
		defer runner.Stop()
	} else {
		logger.Warn("failover management disabled; health checks will not run")
	}

	// Initialize config reloader
	reloader := config.NewReloader(configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	// Health and metrics routes stay outside the admin guards; the request
	// logger skips them so probes do not flood the log.
	mux := http.NewServeMux()
	healthHandler := health.New(core.kv, core.coord, logger)
	healthHandler.RegisterRoutes(mux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		mux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	// Admin endpoints sit behind their own chain:
	// RateLimit → Auth → IP allowlist (inside the handler)
	var limiter *ratelimit.Limiter
	if cfg.Admin.Enabled {
		adminHandler := admin.New(core.store, core.coord, core.checks, core.mgr, reloader, cfg.Admin.IPAllowlist, logger)
		adminMux := http.NewServeMux()
		adminHandler.RegisterRoutes(adminMux)

		limiter = ratelimit.New(cfg.Admin.RateLimit, cfg.Server.TrustedProxies, logger)
		defer limiter.Stop()

		var adminChain http.Handler = adminMux
		adminChain = auth.Middleware(cfg.Admin.Auth, logger)(adminChain)
		adminChain = limiter.Middleware()(adminChain)
		mux.Handle("/admin/", adminChain)
		logger.Info("admin endpoints registered", "auth_enabled", cfg.Admin.Auth.Enabled)
	}

	// Assemble middleware stack:
	// Recovery → RequestID → SecurityHeaders → Logging → mux
	var handler http.Handler = mux
	handler = middleware.Logging(logger, "/health", "/ready", metricsPath)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Register reload callbacks for the settings that support hot-reload
	reloader.OnReload(func(newCfg *config.Config) {
		level.Set(newCfg.Logging.SlogLevel())
		runner.SetInterval(newCfg.Check.Interval())
		if limiter != nil {
			limiter.UpdateConfig(newCfg.Admin.RateLimit)
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	serveErr := make(chan error, 1)
	if cfg.Server.TLS.Enabled() {
		certs, err := tlsutil.New(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		defer certs.Stop()
		srv.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: certs.GetCertificate,
		}
		go func() {
			logger.Info("starting failover manager", "addr", srv.Addr, "tls", true)
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				serveErr <- err
			}
		}()
	} else {
		go func() {
			logger.Info("starting failover manager", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErr <- err
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout())
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("failover manager stopped gracefully")
	return nil
}
