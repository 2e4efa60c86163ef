// Package repository is the caller-facing API over the connection registry.
// It never touches the registry's map: each call is a mailbox round trip
// followed by I/O on the borrowed connection.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/SimonWaldherr/dbhub/internal/importer"
	"github.com/SimonWaldherr/dbhub/internal/model"
	"github.com/SimonWaldherr/dbhub/internal/registry"
	"github.com/SimonWaldherr/dbhub/internal/where"
)

// ErrConnectionNotFound is returned when no connection is registered for an id.
var ErrConnectionNotFound = errors.New("connection not found")

// ErrNoIdentifyingColumns is returned by UpdateTable when the row carries
// neither the row id nor a complete primary key.
var ErrNoIdentifyingColumns = where.ErrNoIdentifyingColumns

// Repository brokers access to registered connections.
type Repository struct {
	reg    *registry.Registry
	logger *log.Logger
}

// New creates a repository with its own registry.
func New(cfg registry.Config) *Repository {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Repository{reg: registry.New(cfg), logger: logger}
}

// Registry exposes the underlying registry, mainly for its stats.
func (r *Repository) Registry() *registry.Registry { return r.reg }

// AddConnection registers conn under id. Any previous connection for id is
// replaced but not closed.
func (r *Repository) AddConnection(id model.DatabaseID, conn model.Connection) {
	r.reg.Add(id, conn)
}

// CloseConnection unregisters and closes the connection for id. Unknown ids
// are ignored.
func (r *Repository) CloseConnection(id model.DatabaseID) {
	r.reg.Remove(id)
}

// FetchSchema reads the schema through the connection registered for id.
func (r *Repository) FetchSchema(ctx context.Context, id model.DatabaseID) (*model.Schema, error) {
	conn, err := r.connection(ctx, id)
	if err != nil {
		return nil, err
	}
	return conn.ReadSchema(ctx)
}

// RunQuery runs stmt on the connection registered for id. Only the lookup
// goes through the registry; the query itself runs on the caller's goroutine.
func (r *Repository) RunQuery(ctx context.Context, id model.DatabaseID, stmt model.Statement) (*model.ResultSet, error) {
	conn, err := r.connection(ctx, id)
	if err != nil {
		return nil, err
	}
	return conn.Query(ctx, stmt)
}

// ExecuteStatement executes stmt on the connection registered for id.
func (r *Repository) ExecuteStatement(ctx context.Context, id model.DatabaseID, stmt model.Statement) error {
	conn, err := r.connection(ctx, id)
	if err != nil {
		return err
	}
	return conn.Execute(ctx, stmt)
}

// UpdateTable sets column to value in the single row of table identified by
// row. Nothing is executed unless the row id or the full primary key is
// present in row.
func (r *Repository) UpdateTable(ctx context.Context, id model.DatabaseID, table model.Table, row model.Row, column string, value model.Value) error {
	conn, err := r.connection(ctx, id)
	if err != nil {
		return err
	}
	stmt, err := where.BuildUpdate(table, row, column, value, quoterFor(conn))
	if err != nil {
		return err
	}
	return conn.Execute(ctx, stmt)
}

// ImportCSV inserts the delimited records read from src into table through
// the connection registered for id. The header must name table columns.
func (r *Repository) ImportCSV(ctx context.Context, id model.DatabaseID, table model.Table, src io.Reader, opts *importer.Options) (*importer.Result, error) {
	conn, err := r.connection(ctx, id)
	if err != nil {
		return nil, err
	}
	return importer.ImportCSV(ctx, conn, quoterFor(conn), table, src, opts)
}

// Ping checks the connection registered for id. Connections that cannot be
// pinged count as healthy once they are found.
func (r *Repository) Ping(ctx context.Context, id model.DatabaseID) error {
	conn, err := r.connection(ctx, id)
	if err != nil {
		return err
	}
	if p, ok := conn.(model.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Release closes every connection and stops the registry. Afterwards every
// lookup fails with ErrConnectionNotFound. Calling it twice is harmless.
func (r *Repository) Release(ctx context.Context) error {
	if err := r.reg.Shutdown(ctx); err != nil {
		r.logger.Printf("repository: release: %v", err)
		return err
	}
	return nil
}

func quoterFor(conn model.Connection) where.Quoter {
	if q, ok := conn.(model.Quoter); ok {
		return q
	}
	return where.ANSI
}

func (r *Repository) connection(ctx context.Context, id model.DatabaseID) (model.Connection, error) {
	conn, ok, err := r.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok || conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	return conn, nil
}
