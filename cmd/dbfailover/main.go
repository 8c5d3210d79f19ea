// Package main is the entry point for the database failover manager. The
// run command starts the long-running daemon: periodic health checks, the
// failover coordinator, and the HTTP ops surface with graceful shutdown on
// SIGINT/SIGTERM. The remaining commands are one-shot operator tools that
// act on the shared health records directly.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/NuxGame/dbfailover/internal/checker"
	"github.com/NuxGame/dbfailover/internal/circuitbreaker"
	"github.com/NuxGame/dbfailover/internal/config"
	"github.com/NuxGame/dbfailover/internal/conn"
	"github.com/NuxGame/dbfailover/internal/failover"
	"github.com/NuxGame/dbfailover/internal/kv"
	"github.com/NuxGame/dbfailover/internal/notify"
	"github.com/NuxGame/dbfailover/internal/probe"
	"github.com/NuxGame/dbfailover/internal/state"

	// Database drivers for the probed connection targets.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

func main() {
	app := &cli.App{
		Name:  "dbfailover",
		Usage: "probe database health, persist it, and route traffic to the primary, failover, or blocking connection",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/dbfailover.yaml",
				Usage:   "path to configuration file",
				EnvVars: []string{"DBFAILOVER_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the failover manager daemon",
				Action: runDaemon,
			},
			{
				Name:  "check",
				Usage: "Probe the configured connections once and apply the failover decision",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "connection",
						Usage: "probe a single connection instead of sweeping all",
					},
				},
				Action: runCheck,
			},
			{
				Name:   "status",
				Usage:  "Print the persisted health records and the resolved active connection",
				Action: runStatus,
			},
			{
				Name:   "switch-primary",
				Usage:  "Force the active connection to primary and mark both health records healthy",
				Action: runSwitchPrimary,
			},
			{
				Name:   "switch-failover",
				Usage:  "Force the active connection to failover, leaving health records untouched",
				Action: runSwitchFailover,
			},
			{
				Name:   "flush",
				Usage:  "Clear all persisted health records",
				Action: runFlush,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// core bundles the components shared by the daemon and the one-shot
// operator commands.
type core struct {
	cfg    *config.Config
	logger *slog.Logger
	roles  state.Roles
	kv     kv.Store
	mgr    *conn.Manager
	bus    *notify.Bus
	store  *state.Store
	coord  *failover.Coordinator
	checks *checker.Checker
}

// buildCore assembles the health record store, the connection manager, and
// the failover coordinator from a validated config.
func buildCore(cfg *config.Config, logger *slog.Logger) (*core, error) {
	roles := state.Roles{
		Primary:  cfg.Failover.PrimaryConnection,
		Failover: cfg.Failover.FailoverConnection,
		Blocking: cfg.Failover.BlockingConnection,
	}

	// The Redis store sits behind a circuit breaker so sweeps fail fast
	// instead of waiting out network timeouts while Redis is down. The
	// in-memory store cannot stall and needs no guard.
	var kvStore kv.Store
	if cfg.Cache.Backend == "redis" {
		redisStore := kv.NewRedis(kv.RedisOptions{
			Addr:         cfg.Cache.Redis.Addr,
			Password:     cfg.Cache.Redis.Password,
			DB:           cfg.Cache.Redis.DB,
			DialTimeout:  cfg.Cache.Redis.DialTimeout(),
			ReadTimeout:  cfg.Cache.Redis.ReadTimeout(),
			WriteTimeout: cfg.Cache.Redis.WriteTimeout(),
			PoolSize:     cfg.Cache.Redis.PoolSize,
			MinIdleConns: cfg.Cache.Redis.MinIdleConns,
		}, logger)
		breaker := circuitbreaker.New("record_store", circuitbreaker.DefaultConfig(), logger)
		kvStore = kv.NewBreakerStore(redisStore, breaker)
	} else {
		kvStore = kv.NewMemory()
	}

	mgr, err := conn.NewManager(cfg.Connections, roles.Blocking, roles.Primary, logger)
	if err != nil {
		return nil, fmt.Errorf("building connection manager: %w", err)
	}

	bus := notify.NewBus(logger)
	prober := probe.New(mgr, cfg.Probe, logger)
	store := state.NewStore(kvStore, prober, bus, state.StoreConfig{
		Roles:            roles,
		FailureThreshold: cfg.Failover.FailureThreshold,
		TTL:              cfg.Cache.TTL(),
		KeyPrefix:        cfg.Cache.KeyPrefix,
	}, logger)
	coord := failover.NewCoordinator(store, mgr, bus, roles, logger)
	checks := checker.New(store, coord, []string{roles.Primary, roles.Failover}, logger)

	return &core{
		cfg:    cfg,
		logger: logger,
		roles:  roles,
		kv:     kvStore,
		mgr:    mgr,
		bus:    bus,
		store:  store,
		coord:  coord,
		checks: checks,
	}, nil
}

// Close releases the database handles and the record store client.
func (c *core) Close() {
	if err := c.mgr.Close(); err != nil {
		c.logger.Warn("closing connections", "error", err)
	}
	if closer, ok := c.kv.(io.Closer); ok {
		closer.Close()
	}
}

// bootstrapOneShot loads config and builds the core for a one-shot command.
// Logs go to stderr at warn level so stdout stays clean JSON.
func bootstrapOneShot(c *cli.Context) (*core, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	return buildCore(cfg, logger)
}

func runCheck(c *cli.Context) error {
	core, err := bootstrapOneShot(c)
	if err != nil {
		return err
	}
	defer core.Close()

	if name := c.String("connection"); name != "" {
		report, err := core.checks.Check(c.Context, name)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	result, err := core.checks.Sweep(c.Context)
	if printErr := printJSON(result); printErr != nil {
		return printErr
	}
	return err
}

type connectionRecord struct {
	Status              state.Status `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

type statusReport struct {
	Connections map[string]connectionRecord `json:"connections"`
	Resolved    string                      `json:"resolved_connection"`
	LimitedMode bool                        `json:"limited_mode"`
}

// runStatus reads the persisted records without probing anything.
func runStatus(c *cli.Context) error {
	core, err := bootstrapOneShot(c)
	if err != nil {
		return err
	}
	defer core.Close()

	records := make(map[string]connectionRecord, 2)
	for _, name := range []string{core.roles.Primary, core.roles.Failover} {
		records[name] = connectionRecord{
			Status:              core.store.ConnectionStatus(c.Context, name),
			ConsecutiveFailures: core.store.FailureCount(c.Context, name),
		}
	}

	resolved := core.coord.ResolveActiveConnection(c.Context)
	return printJSON(statusReport{
		Connections: records,
		Resolved:    resolved,
		LimitedMode: resolved == core.roles.Blocking,
	})
}

func runSwitchPrimary(c *cli.Context) error {
	core, err := bootstrapOneShot(c)
	if err != nil {
		return err
	}
	defer core.Close()

	if err := core.coord.ForceSwitchToPrimary(c.Context); err != nil {
		return fmt.Errorf("switching to primary: %w", err)
	}
	return printJSON(map[string]string{"active_connection": core.coord.CurrentActiveConnectionName()})
}

func runSwitchFailover(c *cli.Context) error {
	core, err := bootstrapOneShot(c)
	if err != nil {
		return err
	}
	defer core.Close()

	if err := core.coord.ForceSwitchToFailover(c.Context); err != nil {
		return fmt.Errorf("switching to failover: %w", err)
	}
	return printJSON(map[string]string{"active_connection": core.coord.CurrentActiveConnectionName()})
}

func runFlush(c *cli.Context) error {
	core, err := bootstrapOneShot(c)
	if err != nil {
		return err
	}
	defer core.Close()

	core.store.FlushAllStatuses(c.Context)
	return printJSON(map[string]string{"status": "flushed"})
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
