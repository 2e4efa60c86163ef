// Package dbhub brokers access to many open database connections from many
// goroutines at once.
//
// A Repository owns a registry of connections keyed by DatabaseID. The
// registry is a single goroutine fed by a mailbox, so registering, closing
// and looking up connections never race. Queries and statements run on the
// caller's goroutine once the connection has been looked up, which keeps a
// slow query from stalling everybody else.
//
// # Basic Usage
//
//	repo := dbhub.New(dbhub.DefaultConfig())
//	defer repo.Release(context.Background())
//
//	conn, _ := dbhub.Open(ctx, "sqlite:/var/lib/app/main.db")
//	repo.AddConnection("main", conn)
//
//	rs, _ := repo.RunQuery(ctx, "main", dbhub.NewStatement("SELECT * FROM users WHERE id = ?", 1))
//
// # Single Row Updates
//
// UpdateTable changes one column of one row. The row is identified by the
// engine row id when the caller saw it, otherwise by the full primary key:
//
//	schema, _ := repo.FetchSchema(ctx, "main")
//	users, _ := schema.Table("users")
//	err := repo.UpdateTable(ctx, "main", users, dbhub.RowOf("rowid", 7), "name", "Bob")
//	if errors.Is(err, dbhub.ErrNoIdentifyingColumns) {
//	    // neither rowid nor the whole key was present; nothing ran
//	}
//
// Supported DSN schemes for Open are sqlite:, postgres://, mysql:// and
// sqlserver://. See cmd/server for the gRPC and HTTP front end.
package dbhub

import (
	"context"

	"github.com/SimonWaldherr/dbhub/internal/model"
	"github.com/SimonWaldherr/dbhub/internal/registry"
	"github.com/SimonWaldherr/dbhub/internal/repository"
	"github.com/SimonWaldherr/dbhub/internal/sqlconn"
	"github.com/SimonWaldherr/dbhub/internal/where"
)

// ============================================================================
// Core Types - Re-exported from internal packages for public API
// ============================================================================

// DatabaseID names a registered connection.
type DatabaseID = model.DatabaseID

// Value is a single SQL value: nil, bool, int64, float64, string, []byte or time.Time.
type Value = model.Value

// Statement is SQL text with ? placeholders and its parameters.
type Statement = model.Statement

// Column, Table and Schema describe database metadata as read by FetchSchema.
type (
	Column = model.Column
	Table  = model.Table
	Schema = model.Schema
)

// Cell is one (column, value) pair; Row is what a caller saw of one table row.
type (
	Cell = model.Cell
	Row  = model.Row
)

// ResultSet is a materialized query result.
type ResultSet = model.ResultSet

// Connection is implemented by anything that can be registered.
type Connection = model.Connection

// Repository is the concurrent connection broker. Create it with New.
type Repository = repository.Repository

// Config tunes the registry behind a Repository.
type Config = registry.Config

// Conn is the database/sql backed Connection returned by Open.
type Conn = sqlconn.Conn

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrConnectionNotFound reports an id with no registered connection.
	ErrConnectionNotFound = repository.ErrConnectionNotFound
	// ErrNoIdentifyingColumns reports an update whose row names neither the
	// row id nor the whole primary key.
	ErrNoIdentifyingColumns = repository.ErrNoIdentifyingColumns
)

// ============================================================================
// Constructors
// ============================================================================

// New starts a Repository.
func New(cfg Config) *Repository { return repository.New(cfg) }

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config { return registry.DefaultConfig() }

// NewDatabaseID returns a random id.
func NewDatabaseID() DatabaseID { return model.NewDatabaseID() }

// NewStatement builds a Statement. The params slice is copied.
func NewStatement(sql string, params ...Value) Statement {
	return model.NewStatement(sql, params...)
}

// RowOf builds a Row from alternating column names and values.
func RowOf(pairs ...any) Row { return model.RowOf(pairs...) }

// Open opens and pings a database by DSN.
func Open(ctx context.Context, dsn string) (*Conn, error) { return sqlconn.Open(ctx, dsn) }

// BuildUpdate renders the single-row UPDATE that UpdateTable would run,
// quoting identifiers the ANSI way.
func BuildUpdate(table Table, row Row, column string, value Value) (Statement, error) {
	return where.BuildUpdate(table, row, column, value, where.ANSI)
}
