// Package sqlconn implements model.Connection on top of database/sql.
//
// What: One Conn wraps a *sqlx.DB for SQLite, PostgreSQL, MySQL or SQL Server
// and knows the dialect's identifier quoting, schema catalog and row id.
// How: Reads and writes take a slot from small reader/writer pools, waiting
// at most busy_timeout, then run through database/sql with the statement's
// ? placeholders rebound to the driver's bind style.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

// Conn is a live database session usable as a model.Connection.
type Conn struct {
	db          *sqlx.DB
	dialect     *dialect
	readerPool  chan struct{}
	writerPool  chan struct{}
	busyTimeout time.Duration
}

var (
	_ model.Connection = (*Conn)(nil)
	_ model.Quoter     = (*Conn)(nil)
	_ model.Pinger     = (*Conn)(nil)
)

// Open parses dsn, opens the database and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*Conn, error) {
	c, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(c.dialect.driver, c.driverDSN)
	if err != nil {
		return nil, fmt.Errorf("dbhub: open %s: %w", c.dialect.name, err)
	}
	if c.memory {
		// Every pooled connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}
	conn := newConn(db, c.dialect, c)
	if err := conn.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dbhub: ping %s: %w", c.dialect.name, err)
	}
	return conn, nil
}

// Wrap turns an already opened *sql.DB into a Conn. dialectName is one of
// sqlite, postgres, mysql or sqlserver.
func Wrap(db *sql.DB, dialectName string) (*Conn, error) {
	d, ok := dialects[dialectName]
	if !ok {
		return nil, fmt.Errorf("dbhub: unknown dialect %q", dialectName)
	}
	return newConn(sqlx.NewDb(db, d.driver), d, cfg{maxWriters: 1}), nil
}

func newConn(db *sqlx.DB, d *dialect, c cfg) *Conn {
	conn := &Conn{db: db, dialect: d, busyTimeout: c.busyTimeout}
	if c.maxReaders > 0 {
		conn.readerPool = make(chan struct{}, c.maxReaders)
	}
	if c.maxWriters > 0 {
		conn.writerPool = make(chan struct{}, c.maxWriters)
	}
	return conn
}

// Dialect returns the dialect name.
func (c *Conn) Dialect() string { return c.dialect.name }

// QuoteIdent quotes an identifier for this connection's engine.
func (c *Conn) QuoteIdent(name string) string { return c.dialect.quoter.QuoteIdent(name) }

// Execute runs a statement that returns no rows.
func (c *Conn) Execute(ctx context.Context, stmt model.Statement) error {
	if err := c.acquire(ctx, c.writerPool); err != nil {
		return err
	}
	defer c.release(c.writerPool)
	_, err := c.db.ExecContext(ctx, c.db.Rebind(stmt.SQL), stmt.Params...)
	return err
}

// Query runs a statement and materializes all rows.
func (c *Conn) Query(ctx context.Context, stmt model.Statement) (*model.ResultSet, error) {
	if err := c.acquire(ctx, c.readerPool); err != nil {
		return nil, err
	}
	defer c.release(c.readerPool)
	rows, err := c.db.QueryxContext(ctx, c.db.Rebind(stmt.SQL), stmt.Params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &model.ResultSet{Columns: cols}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		row := make(model.Row, len(cols))
		for i, col := range cols {
			row[i] = model.Cell{Column: col, Value: c.dialect.convert(vals[i])}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

// ReadSchema loads the table metadata from the engine's catalog.
func (c *Conn) ReadSchema(ctx context.Context) (*model.Schema, error) {
	if err := c.acquire(ctx, c.readerPool); err != nil {
		return nil, err
	}
	defer c.release(c.readerPool)
	return c.dialect.readSchema(ctx, c)
}

// Ping implements model.Pinger.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.acquire(ctx, c.readerPool); err != nil {
		return err
	}
	defer c.release(c.readerPool)
	return c.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (c *Conn) Close() error {
	return c.db.Close()
}

//nolint:gocyclo // Slot acquisition must cover timeout, context, and immediate acquisition paths.
func (c *Conn) acquire(ctx context.Context, pool chan struct{}) error {
	if pool == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return nil
	}
	if c.busyTimeout <= 0 {
		select {
		case pool <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timeout := c.busyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remain := time.Until(deadline)
		if remain <= 0 {
			return ctx.Err()
		}
		if remain < timeout {
			timeout = remain
		}
	}
	select {
	case pool <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pool <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("dbhub: busy timeout after %s", timeout)
	}
}

func (c *Conn) release(pool chan struct{}) {
	if pool == nil {
		return
	}
	select {
	case <-pool:
	default:
	}
}
