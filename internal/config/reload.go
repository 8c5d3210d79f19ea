package config

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the config file and reloads on changes.
// It supports fsnotify file watching (cross-platform) and SIGHUP
// (Unix only, registered in reload_unix.go).
//
// Only the log level and the check cadence take effect at runtime. The
// hysteresis threshold, cache TTL, role names, and connection targets are
// fixed for the lifetime of the process; changing them in the file logs a
// restart-required notice and nothing else.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewReloader creates a Reloader for the given config file path.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current: initial,
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active configuration (thread-safe).
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback that is invoked with the new config
// after a successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start begins watching the config file for changes and listening for
// SIGHUP (on Unix). Must be called once after NewReloader.
func (r *Reloader) Start() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Error("failed to create file watcher", "error", err)
		return
	}
	r.watcher = watcher

	if err := watcher.Add(r.path); err != nil {
		r.logger.Error("failed to watch config file", "path", r.path, "error", err)
		watcher.Close()
		r.watcher = nil
		return
	}

	r.logger.Info("config file watcher started", "path", r.path)

	go r.watchLoop()

	r.registerSignalHandler()
}

// Stop terminates the file watcher and signal handler.
func (r *Reloader) Stop() {
	close(r.stopCh)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

// Reload loads the config from disk, validates it, and if valid swaps it
// in and notifies all registered callbacks. Returns true if the reload
// succeeded. Exported so signal handlers and tests can call it.
func (r *Reloader) Reload() bool {
	r.logger.Info("reloading configuration", "path", r.path)

	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed: invalid config, keeping current",
			"path", r.path, "error", err)
		return false
	}

	r.mu.Lock()
	old := r.current
	r.current = newCfg
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logChanges(old, newCfg)

	for _, cb := range callbacks {
		cb(newCfg)
	}

	r.logger.Info("configuration reloaded successfully")
	return true
}

// watchLoop processes fsnotify events with debouncing.
func (r *Reloader) watchLoop() {
	// Debounce timer — editors often write multiple events on save.
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					r.Reload()
				})
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("file watcher error", "error", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// logChanges logs what changed between the old and new config, separating
// hot-applied settings from those that need a restart.
func (r *Reloader) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		r.logger.Info("log level changed",
			"old", old.Logging.Level,
			"new", new.Logging.Level,
		)
	}

	if old.Check.IntervalSeconds != new.Check.IntervalSeconds {
		r.logger.Info("check cadence changed",
			"old", old.Check.Interval(),
			"new", new.Check.Interval(),
		)
	}

	for _, frozen := range frozenChanges(old, new) {
		r.logger.Warn("config change requires restart to take effect", "setting", frozen)
	}
}

// frozenChanges lists the restart-required settings that differ between
// the two configs.
func frozenChanges(old, new *Config) []string {
	var changed []string

	if old.Failover.FailureThreshold != new.Failover.FailureThreshold {
		changed = append(changed, "failover.failure_threshold")
	}
	if old.Failover.PrimaryConnection != new.Failover.PrimaryConnection ||
		old.Failover.FailoverConnection != new.Failover.FailoverConnection ||
		old.Failover.BlockingConnection != new.Failover.BlockingConnection {
		changed = append(changed, "failover connection roles")
	}
	if old.Cache.TTLSeconds != new.Cache.TTLSeconds || old.Cache.KeyPrefix != new.Cache.KeyPrefix {
		changed = append(changed, "cache record settings")
	}
	if old.Cache.Backend != new.Cache.Backend || old.Cache.Redis != new.Cache.Redis {
		changed = append(changed, "cache backend")
	}
	if old.Probe.Query != new.Probe.Query || old.Probe.TimeoutMs != new.Probe.TimeoutMs {
		changed = append(changed, "probe settings")
	}
	if !reflect.DeepEqual(old.Connections, new.Connections) {
		changed = append(changed, "connection targets")
	}
	if !reflect.DeepEqual(old.Server, new.Server) {
		changed = append(changed, "server settings")
	}

	return changed
}
