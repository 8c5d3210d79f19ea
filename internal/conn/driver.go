package conn

import (
	"database/sql"
	"database/sql/driver"
	"errors"
)

// BlockingDriverName is the database/sql driver name backing the synthetic
// blocking connection.
const BlockingDriverName = "dbfailover-blocking"

// ErrBlocked is returned for every operation attempted against the blocking
// connection. Callers seeing it know the manager is in limited functionality
// mode and should fail the request rather than retry.
var ErrBlocked = errors.New("conn: connection blocked in limited functionality mode")

func init() {
	sql.Register(BlockingDriverName, blockingDriver{})
}

// blockingDriver fails at Open so that every statement against the blocking
// connection errors immediately instead of hanging on a dead socket.
type blockingDriver struct{}

func (blockingDriver) Open(string) (driver.Conn, error) {
	return nil, ErrBlocked
}
