// Package model holds the plain data shared by the registry, the where
// resolver and the repository: statements, table metadata, rows and
// result sets, plus the Connection contract those layers talk to.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// DatabaseID identifies one logical database session inside a registry.
type DatabaseID string

// NewDatabaseID returns a random identifier for callers that have no
// natural name for a session.
func NewDatabaseID() DatabaseID {
	return DatabaseID(uuid.NewString())
}

// Value is a bound parameter or a cell value.
type Value = any

// Statement is SQL text plus positional parameters. Treat it as immutable.
type Statement struct {
	SQL    string
	Params []Value
}

// NewStatement builds a Statement. The params slice is copied.
func NewStatement(sql string, params ...Value) Statement {
	ps := make([]Value, len(params))
	copy(ps, params)
	return Statement{SQL: sql, Params: ps}
}

// String renders the statement with its parameters inlined as literals.
// The result is meant for logs and must never be sent to a database.
// Placeholders inside string literals and quoted identifiers are left alone.
func (s Statement) String() string {
	var sb strings.Builder
	sb.Grow(len(s.SQL) + len(s.Params)*8)
	argi := 0
	for i := 0; i < len(s.SQL); i++ {
		ch := s.SQL[i]
		if end := closingQuote(ch); end != 0 {
			sb.WriteByte(ch)
			i++
			for i < len(s.SQL) {
				sb.WriteByte(s.SQL[i])
				if s.SQL[i] == end {
					// A doubled closing quote is an escaped one.
					if i+1 < len(s.SQL) && s.SQL[i+1] == end {
						i++
						sb.WriteByte(s.SQL[i])
						i++
						continue
					}
					break
				}
				i++
			}
			continue
		}
		if ch == '?' && argi < len(s.Params) {
			sb.WriteString(literal(s.Params[argi]))
			argi++
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

func closingQuote(open byte) byte {
	switch open {
	case '\'', '"', '`':
		return open
	case '[':
		return ']'
	}
	return 0
}

func literal(v Value) string {
	if v == nil {
		return "NULL"
	}
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32, float64:
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case []byte:
		return fmt.Sprintf("X'%X'", x)
	default:
		b, _ := json.Marshal(x)
		return "'" + strings.ReplaceAll(string(b), "'", "''") + "'"
	}
}

// Column describes one table column. KeySeq is the 1-based position of the
// column inside a composite primary key, 0 when the engine does not report it.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
	KeySeq     int    `json:"key_seq,omitempty"`
}

// Table is a snapshot of a table's metadata taken by a schema fetch.
// RowIDColumn names the engine's implicit row identifier, if any.
type Table struct {
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
	RowIDColumn string   `json:"rowid_column,omitempty"`
}

// PrimaryKeyColumns returns the primary key members in declared key order.
func (t Table) PrimaryKeyColumns() []Column {
	var pk []Column
	ordered := true
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c)
			if c.KeySeq <= 0 {
				ordered = false
			}
		}
	}
	// Without a full key sequence the column order is the declared order.
	if ordered {
		sort.SliceStable(pk, func(i, j int) bool { return pk[i].KeySeq < pk[j].KeySeq })
	}
	return pk
}

// Column looks up a column by name, ignoring case.
func (t Table) Column(name string) (Column, bool) {
	key := FoldName(name)
	for _, c := range t.Columns {
		if FoldName(c.Name) == key {
			return c, true
		}
	}
	return Column{}, false
}

// Schema is the set of tables visible through one connection.
type Schema struct {
	Tables []Table `json:"tables"`
}

// Table looks up a table by name, ignoring case.
func (s *Schema) Table(name string) (Table, bool) {
	if s == nil {
		return Table{}, false
	}
	key := FoldName(name)
	for _, t := range s.Tables {
		if FoldName(t.Name) == key {
			return t, true
		}
	}
	return Table{}, false
}

// Cell is one (column, value) pair of a row.
type Cell struct {
	Column string `json:"column"`
	Value  Value  `json:"value"`
}

// Row is an ordered list of cells. It is evidence of what the caller saw,
// not a live view of the table.
type Row []Cell

// RowOf builds a Row from alternating column names and values.
func RowOf(pairs ...any) Row {
	row := make(Row, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		row = append(row, Cell{Column: name, Value: pairs[i+1]})
	}
	return row
}

// Get returns the value stored for a column, ignoring case.
func (r Row) Get(name string) (Value, bool) {
	key := FoldName(name)
	for _, c := range r {
		if FoldName(c.Column) == key {
			return c.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names of the row in order.
func (r Row) Columns() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Column
	}
	return names
}

// ResultSet is the materialized result of a query.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// FoldName case-folds an identifier for comparisons. A fresh Caser is used
// per call because casers are not safe for concurrent use.
func FoldName(name string) string {
	return cases.Fold().String(name)
}

// Connection is an open database session. Implementations decide whether
// concurrent calls are serialized; callers must not assume they are.
type Connection interface {
	Execute(ctx context.Context, stmt Statement) error
	Query(ctx context.Context, stmt Statement) (*ResultSet, error)
	ReadSchema(ctx context.Context) (*Schema, error)
	Close() error
}

// Quoter is implemented by connections whose engine needs a specific
// identifier quoting style.
type Quoter interface {
	QuoteIdent(name string) string
}

// Pinger is implemented by connections that can cheaply check liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
