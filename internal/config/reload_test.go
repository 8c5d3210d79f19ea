package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return logger, &buf
}

func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const validConfig = `
check:
  interval_seconds: 10
connections:
  primary:
    driver: mysql
    dsn: "user:pass@tcp(db1:3306)/app"
  failover:
    driver: mysql
    dsn: "user:pass@tcp(db2:3306)/app"
`

const validConfigUpdated = `
check:
  interval_seconds: 2
logging:
  level: debug
connections:
  primary:
    driver: mysql
    dsn: "user:pass@tcp(db1:3306)/app"
  failover:
    driver: mysql
    dsn: "user:pass@tcp(db2:3306)/app"
`

const validConfigFrozenChange = `
failover:
  failure_threshold: 7
check:
  interval_seconds: 10
connections:
  primary:
    driver: mysql
    dsn: "user:pass@tcp(db1:3306)/app"
  failover:
    driver: mysql
    dsn: "user:pass@tcp(db2:3306)/app"
`

const invalidConfig = `
failover:
  failure_threshold: -2
connections: {}
`

func TestReloader_Current(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	r := NewReloader(path, initial, logger)
	cfg := r.Current()
	if cfg.Check.IntervalSeconds != 10 {
		t.Errorf("expected interval 10s, got %d", cfg.Check.IntervalSeconds)
	}
}

func TestReloader_Reload_ValidConfig(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	r := NewReloader(path, initial, logger)

	if err := os.WriteFile(path, []byte(validConfigUpdated), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	ok := r.Reload()
	if !ok {
		t.Fatal("expected reload to succeed")
	}

	cfg := r.Current()
	if cfg.Check.IntervalSeconds != 2 {
		t.Errorf("expected interval 2s after reload, got %d", cfg.Check.IntervalSeconds)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug after reload, got %q", cfg.Logging.Level)
	}
}

func TestReloader_Reload_InvalidConfig(t *testing.T) {
	logger, logBuf := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	r := NewReloader(path, initial, logger)

	if err := os.WriteFile(path, []byte(invalidConfig), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	ok := r.Reload()
	if ok {
		t.Fatal("expected reload to fail for invalid config")
	}

	// Original config should be preserved
	cfg := r.Current()
	if cfg.Check.IntervalSeconds != 10 {
		t.Errorf("expected original interval preserved, got %d", cfg.Check.IntervalSeconds)
	}

	if !strings.Contains(logBuf.String(), "config reload failed") {
		t.Error("expected error to be logged")
	}
}

func TestReloader_OnReload_Callback(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	r := NewReloader(path, initial, logger)

	var callbackCalled bool
	var callbackInterval int
	r.OnReload(func(cfg *Config) {
		callbackCalled = true
		callbackInterval = cfg.Check.IntervalSeconds
	})

	if err := os.WriteFile(path, []byte(validConfigUpdated), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	r.Reload()

	if !callbackCalled {
		t.Fatal("expected callback to be called")
	}
	if callbackInterval != 2 {
		t.Errorf("expected callback to receive interval 2s, got %d", callbackInterval)
	}
}

func TestReloader_OnReload_NotCalledOnFailure(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	r := NewReloader(path, initial, logger)

	callbackCalled := false
	r.OnReload(func(cfg *Config) {
		callbackCalled = true
	})

	if err := os.WriteFile(path, []byte(invalidConfig), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	r.Reload()

	if callbackCalled {
		t.Fatal("callback should not be called on failed reload")
	}
}

func TestReloader_FileWatch(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	r := NewReloader(path, initial, logger)

	reloadDone := make(chan struct{}, 1)
	r.OnReload(func(cfg *Config) {
		select {
		case reloadDone <- struct{}{}:
		default:
		}
	})

	r.Start()
	defer r.Stop()

	// Give the watcher time to initialize
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(validConfigUpdated), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case <-reloadDone:
		cfg := r.Current()
		if cfg.Check.IntervalSeconds != 2 {
			t.Errorf("expected interval 2s after file watch reload, got %d", cfg.Check.IntervalSeconds)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("file watch reload timed out")
	}
}

func TestReloader_LogChanges(t *testing.T) {
	logger, logBuf := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	r := NewReloader(path, initial, logger)

	if err := os.WriteFile(path, []byte(validConfigUpdated), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	r.Reload()

	logOutput := logBuf.String()
	if !strings.Contains(logOutput, "check cadence changed") {
		t.Error("expected check cadence change to be logged")
	}
	if !strings.Contains(logOutput, "log level changed") {
		t.Error("expected log level change to be logged")
	}
}

func TestReloader_FrozenChangeWarning(t *testing.T) {
	logger, logBuf := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load initial config: %v", err)
	}

	r := NewReloader(path, initial, logger)

	if err := os.WriteFile(path, []byte(validConfigFrozenChange), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	if ok := r.Reload(); !ok {
		t.Fatal("expected reload to succeed")
	}

	if !strings.Contains(logBuf.String(), "requires restart") {
		t.Error("expected restart-required warning for threshold change")
	}
}
