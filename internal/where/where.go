// Package where derives the WHERE clause that identifies exactly one row
// for a single-row UPDATE.
//
// What: Resolve picks the engine row id when the row carries it, otherwise a
// complete primary key binding, otherwise it fails.
// How: identifiers pass through a Quoter; cell values only ever travel as
// bound parameters.
package where

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

// ErrNoIdentifyingColumns is returned when neither the row id nor a full
// primary key binding is present in the row.
var ErrNoIdentifyingColumns = errors.New("no identifying columns")

// Quoter quotes an SQL identifier.
type Quoter interface {
	QuoteIdent(name string) string
}

// QuoterFunc adapts a function to Quoter.
type QuoterFunc func(string) string

func (f QuoterFunc) QuoteIdent(name string) string { return f(name) }

var (
	// ANSI quotes with double quotes, doubling embedded ones.
	ANSI Quoter = QuoterFunc(func(name string) string { return quote(name, `"`, `"`) })
	// Backtick quotes MySQL style.
	Backtick Quoter = QuoterFunc(func(name string) string { return quote(name, "`", "`") })
	// Bracket quotes SQL Server style.
	Bracket Quoter = QuoterFunc(func(name string) string { return quote(name, "[", "]") })
)

func quote(name, open, end string) string {
	return open + strings.ReplaceAll(name, end, end+end) + end
}

// Expression is an equality conjunction plus its parameters in order.
type Expression struct {
	SQL    string
	Params []model.Value
}

// Resolve builds the expression identifying row within table. A nil quoter
// means ANSI.
func Resolve(table model.Table, row model.Row, q Quoter) (Expression, error) {
	if q == nil {
		q = ANSI
	}

	// The engine row id wins over any primary key values in the row.
	if table.RowIDColumn != "" {
		if v, ok := row.Get(table.RowIDColumn); ok {
			return Expression{
				SQL:    q.QuoteIdent(table.RowIDColumn) + " = ?",
				Params: []model.Value{v},
			}, nil
		}
	}

	pk := table.PrimaryKeyColumns()
	parts := make([]string, 0, len(pk))
	params := make([]model.Value, 0, len(pk))
	for _, c := range pk {
		v, ok := row.Get(c.Name)
		if !ok {
			continue
		}
		parts = append(parts, q.QuoteIdent(c.Name)+" = ?")
		params = append(params, v)
	}
	if len(parts) == 0 || len(parts) != len(pk) {
		return Expression{}, fmt.Errorf("%w: table %s, row columns %v", ErrNoIdentifyingColumns, table.Name, row.Columns())
	}
	return Expression{SQL: strings.Join(parts, " AND "), Params: params}, nil
}

// BuildUpdate returns UPDATE <table> SET <column> = ? WHERE <expr> with the
// new value bound first, followed by the expression parameters.
func BuildUpdate(table model.Table, row model.Row, column string, value model.Value, q Quoter) (model.Statement, error) {
	if q == nil {
		q = ANSI
	}
	if column == "" {
		return model.Statement{}, errors.New("where: update column name is empty")
	}
	if table.Name == "" {
		return model.Statement{}, errors.New("where: table name is empty")
	}
	expr, err := Resolve(table, row, q)
	if err != nil {
		return model.Statement{}, err
	}
	sql := "UPDATE " + q.QuoteIdent(table.Name) + " SET " + q.QuoteIdent(column) + " = ? WHERE " + expr.SQL
	params := make([]model.Value, 0, len(expr.Params)+1)
	params = append(params, value)
	params = append(params, expr.Params...)
	return model.Statement{SQL: sql, Params: params}, nil
}
