// Package conn manages the named database connections the failover manager
// routes between: the probed primary and failover targets, plus a synthetic
// blocking target that refuses every query while limited functionality mode
// is active.
package conn

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NuxGame/dbfailover/internal/config"
)

// Manager is a registry of named *sql.DB handles with one designated active
// connection. Opening a handle does not dial; real connections are
// established lazily by the driver on first use, so construction succeeds
// even when a database is down.
type Manager struct {
	mu     sync.RWMutex
	dbs    map[string]*sql.DB
	active string
	logger *slog.Logger
}

// NewManager opens one handle per configured connection and registers the
// synthetic blocking connection under blockingName. defaultActive names the
// connection considered active before any failover decision is made.
func NewManager(conns map[string]config.ConnectionConfig, blockingName, defaultActive string, logger *slog.Logger) (*Manager, error) {
	dbs := make(map[string]*sql.DB, len(conns)+1)

	for name, cc := range conns {
		db, err := sql.Open(cc.Driver, cc.DSN)
		if err != nil {
			closeAll(dbs)
			return nil, fmt.Errorf("opening connection %q: %w", name, err)
		}
		db.SetMaxOpenConns(cc.MaxOpenConns)
		db.SetMaxIdleConns(cc.MaxIdleConns)
		db.SetConnMaxLifetime(cc.ConnMaxLifetime())
		dbs[name] = db

		logger.Info("connection registered",
			"name", name,
			"driver", cc.Driver,
			"max_open_conns", cc.MaxOpenConns,
		)
	}

	blocking, err := sql.Open(BlockingDriverName, blockingName)
	if err != nil {
		closeAll(dbs)
		return nil, fmt.Errorf("opening blocking connection: %w", err)
	}
	dbs[blockingName] = blocking

	if _, ok := dbs[defaultActive]; !ok {
		closeAll(dbs)
		return nil, fmt.Errorf("default active connection %q is not configured", defaultActive)
	}

	return &Manager{dbs: dbs, active: defaultActive, logger: logger}, nil
}

// Resolve returns the handle registered under name.
func (m *Manager) Resolve(name string) (*sql.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	db, ok := m.dbs[name]
	if !ok {
		return nil, fmt.Errorf("conn: unknown connection %q", name)
	}
	return db, nil
}

// SetActive marks name as the active connection. This is the one mutation
// the failover coordinator needs to propagate loudly: an unknown name means
// the decision cannot be applied and the caller must handle it.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dbs[name]; !ok {
		return fmt.Errorf("conn: unknown connection %q", name)
	}
	m.active = name
	return nil
}

// Active returns the currently active connection name.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActiveDB returns the handle of the currently active connection. In limited
// functionality mode this is the blocking handle, whose every use fails with
// ErrBlocked.
func (m *Manager) ActiveDB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dbs[m.active]
}

// Stats reports pool statistics for the named connection.
func (m *Manager) Stats(name string) (sql.DBStats, error) {
	db, err := m.Resolve(name)
	if err != nil {
		return sql.DBStats{}, err
	}
	return db.Stats(), nil
}

// Close closes every registered handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, db := range m.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func closeAll(dbs map[string]*sql.DB) {
	for _, db := range dbs {
		db.Close()
	}
}
