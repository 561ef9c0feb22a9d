package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/dbchat/dbchat/internal/connections"
	"github.com/dbchat/dbchat/internal/dialect"
)

const defaultPingTimeout = 5 * time.Second

// ConnectionError reports that no session could be opened for a connection.
type ConnectionError struct {
	Connection string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("open session for connection %q: %v", e.Connection, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Opener opens a session: a *sql.DB holding at most one live connection. Callers own the
// returned handle and must Close it.
type Opener interface {
	Open(ctx context.Context, conn connections.AIConnection) (*sql.DB, error)
}

type DriverOpener struct {
	// DefaultDialect applies to connections that do not name one.
	DefaultDialect string
	PingTimeout    time.Duration
}

func (o DriverOpener) Open(ctx context.Context, conn connections.AIConnection) (*sql.DB, error) {
	d, err := Resolve(conn, o.DefaultDialect)
	if err != nil {
		return nil, &ConnectionError{Connection: conn.Name, Err: err}
	}
	if conn.ConnectionString == "" {
		return nil, &ConnectionError{Connection: conn.Name, Err: fmt.Errorf("connection string is required")}
	}

	db, err := sql.Open(d.DriverName, conn.ConnectionString)
	if err != nil {
		return nil, &ConnectionError{Connection: conn.Name, Err: fmt.Errorf("open %s: %w", d.Name, err)}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	timeout := o.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Connection: conn.Name, Err: fmt.Errorf("ping %s: %w", d.Name, err)}
	}
	return db, nil
}

// Resolve picks the connection's dialect, falling back to defaultName when it has none.
func Resolve(conn connections.AIConnection, defaultName string) (dialect.Dialect, error) {
	name := conn.Dialect
	if name == "" {
		name = defaultName
	}
	return dialect.Lookup(name)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, conn connections.AIConnection) (*sql.DB, error)

func (f OpenerFunc) Open(ctx context.Context, conn connections.AIConnection) (*sql.DB, error) {
	return f(ctx, conn)
}
