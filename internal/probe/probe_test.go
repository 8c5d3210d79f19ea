package probe

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/NuxGame/dbfailover/internal/config"
)

// stubDriver is a database/sql driver whose behavior is selected by the DSN:
// "ok" answers queries, "refuse" fails them, "hang" blocks until the query
// context is cancelled.
type stubDriver struct{}

func (stubDriver) Open(dsn string) (driver.Conn, error) {
	if dsn == "unreachable" {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &stubConn{mode: dsn}, nil
}

type stubConn struct{ mode string }

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *stubConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	switch c.mode {
	case "ok":
		return stubRows{}, nil
	case "refuse":
		return nil, errors.New("query refused")
	case "hang":
		<-ctx.Done()
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("unknown stub mode %q", c.mode)
	}
}

type stubRows struct{}

func (stubRows) Columns() []string              { return []string{"1"} }
func (stubRows) Close() error                   { return nil }
func (stubRows) Next(dest []driver.Value) error { return io.EOF }

func init() {
	sql.Register("probestub", stubDriver{})
}

// mapResolver resolves names to stub databases opened with the given modes.
type mapResolver map[string]*sql.DB

func (r mapResolver) Resolve(name string) (*sql.DB, error) {
	db, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", name)
	}
	return db, nil
}

func newStubResolver(t *testing.T, modes map[string]string) mapResolver {
	t.Helper()
	r := make(mapResolver, len(modes))
	for name, mode := range modes {
		db, err := sql.Open("probestub", mode)
		if err != nil {
			t.Fatalf("opening stub %q: %v", name, err)
		}
		t.Cleanup(func() { db.Close() })
		r[name] = db
	}
	return r
}

func newTestProber(t *testing.T, modes map[string]string, timeout time.Duration) *Prober {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	return New(newStubResolver(t, modes), config.ProbeConfig{
		Query:     "SELECT 1",
		TimeoutMs: int(timeout.Milliseconds()),
	}, logger)
}

func TestIsHealthy_Success(t *testing.T) {
	p := newTestProber(t, map[string]string{"primary": "ok"}, time.Second)

	if !p.IsHealthy(context.Background(), "primary") {
		t.Error("expected healthy probe")
	}
}

func TestIsHealthy_QueryError(t *testing.T) {
	p := newTestProber(t, map[string]string{"primary": "refuse"}, time.Second)

	if p.IsHealthy(context.Background(), "primary") {
		t.Error("expected failed probe on query error")
	}
}

func TestIsHealthy_ConnectError(t *testing.T) {
	p := newTestProber(t, map[string]string{"primary": "unreachable"}, time.Second)

	if p.IsHealthy(context.Background(), "primary") {
		t.Error("expected failed probe on connect error")
	}
}

func TestIsHealthy_UnresolvableConnection(t *testing.T) {
	p := newTestProber(t, map[string]string{}, time.Second)

	if p.IsHealthy(context.Background(), "ghost") {
		t.Error("expected failed probe for unresolvable connection")
	}
}

func TestIsHealthy_Timeout(t *testing.T) {
	p := newTestProber(t, map[string]string{"primary": "hang"}, 50*time.Millisecond)

	start := time.Now()
	ok := p.IsHealthy(context.Background(), "primary")
	elapsed := time.Since(start)

	if ok {
		t.Error("expected failed probe on timeout")
	}
	if elapsed > 2*time.Second {
		t.Errorf("probe did not honor its deadline, took %v", elapsed)
	}
}

func TestIsHealthy_TimeoutDoesNotPoisonLaterProbes(t *testing.T) {
	p := newTestProber(t, map[string]string{
		"primary":  "hang",
		"failover": "ok",
	}, 50*time.Millisecond)

	if p.IsHealthy(context.Background(), "primary") {
		t.Fatal("expected hang probe to time out")
	}

	// A subsequent probe on another connection runs under a fresh deadline.
	if !p.IsHealthy(context.Background(), "failover") {
		t.Error("expected healthy probe after earlier timeout")
	}
}

func TestIsHealthy_CancelledCaller(t *testing.T) {
	p := newTestProber(t, map[string]string{"primary": "hang"}, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if p.IsHealthy(ctx, "primary") {
		t.Error("expected failed probe under cancelled context")
	}
}
