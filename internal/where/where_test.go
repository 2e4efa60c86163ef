package where

import (
	"errors"
	"reflect"
	"testing"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

func keyedTable(rowid string) model.Table {
	return model.Table{
		Name: "t",
		Columns: []model.Column{
			{Name: "a", PrimaryKey: true, KeySeq: 1},
			{Name: "b", PrimaryKey: true, KeySeq: 2},
			{Name: "c"},
		},
		RowIDColumn: rowid,
	}
}

func TestResolveRowIDPrecedence(t *testing.T) {
	row := model.RowOf("a", 1, "b", 2, "rowid", int64(7))
	expr, err := Resolve(keyedTable("rowid"), row, nil)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if expr.SQL != `"rowid" = ?` {
		t.Fatalf("unexpected SQL: %s", expr.SQL)
	}
	if !reflect.DeepEqual(expr.Params, []model.Value{int64(7)}) {
		t.Fatalf("unexpected params: %v", expr.Params)
	}
}

func TestResolvePrimaryKey(t *testing.T) {
	tests := []struct {
		name   string
		table  model.Table
		row    model.Row
		sql    string
		params []model.Value
		err    error
	}{
		{
			name:   "full key",
			table:  keyedTable(""),
			row:    model.RowOf("b", "y", "c", 3, "a", "x"),
			sql:    `"a" = ? AND "b" = ?`,
			params: []model.Value{"x", "y"},
		},
		{
			name:  "partial key",
			table: keyedTable(""),
			row:   model.RowOf("a", "x"),
			err:   ErrNoIdentifyingColumns,
		},
		{
			name:   "rowid declared but missing falls back to key",
			table:  keyedTable("rowid"),
			row:    model.RowOf("A", 1, "B", 2),
			sql:    `"a" = ? AND "b" = ?`,
			params: []model.Value{1, 2},
		},
		{
			name:  "no key columns",
			table: model.Table{Name: "t", Columns: []model.Column{{Name: "c"}}},
			row:   model.RowOf("c", 1),
			err:   ErrNoIdentifyingColumns,
		},
		{
			name:  "empty row",
			table: keyedTable("rowid"),
			row:   nil,
			err:   ErrNoIdentifyingColumns,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Resolve(tt.table, tt.row, ANSI)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if expr.SQL != tt.sql {
				t.Fatalf("SQL = %s; want %s", expr.SQL, tt.sql)
			}
			if !reflect.DeepEqual(expr.Params, tt.params) {
				t.Fatalf("params = %v; want %v", expr.Params, tt.params)
			}
		})
	}
}

func TestQuoters(t *testing.T) {
	tests := []struct {
		q    Quoter
		in   string
		want string
	}{
		{ANSI, `weird"name`, `"weird""name"`},
		{Backtick, "a`b", "`a``b`"},
		{Bracket, "a]b", "[a]]b]"},
		{ANSI, "x; DROP TABLE t", `"x; DROP TABLE t"`},
	}
	for _, tt := range tests {
		if got := tt.q.QuoteIdent(tt.in); got != tt.want {
			t.Errorf("QuoteIdent(%q) = %s; want %s", tt.in, got, tt.want)
		}
	}
}

func TestBuildUpdate(t *testing.T) {
	tbl := model.Table{Name: "t", Columns: []model.Column{{Name: "id", PrimaryKey: true}, {Name: "c"}}}
	stmt, err := BuildUpdate(tbl, model.RowOf("id", 5, "c", "old"), "c", "V", nil)
	if err != nil {
		t.Fatalf("BuildUpdate returned error: %v", err)
	}
	if want := `UPDATE "t" SET "c" = ? WHERE "id" = ?`; stmt.SQL != want {
		t.Fatalf("SQL = %s; want %s", stmt.SQL, want)
	}
	if !reflect.DeepEqual(stmt.Params, []model.Value{"V", 5}) {
		t.Fatalf("params = %v", stmt.Params)
	}
}

func TestBuildUpdateFailures(t *testing.T) {
	tbl := keyedTable("")
	if _, err := BuildUpdate(tbl, model.RowOf("a", 1), "c", 1, nil); !errors.Is(err, ErrNoIdentifyingColumns) {
		t.Fatalf("expected ErrNoIdentifyingColumns, got %v", err)
	}
	if _, err := BuildUpdate(tbl, model.RowOf("a", 1, "b", 2), "", 1, nil); err == nil {
		t.Fatalf("expected error for empty column")
	}
	if _, err := BuildUpdate(model.Table{}, model.RowOf("a", 1), "c", 1, nil); err == nil {
		t.Fatalf("expected error for empty table name")
	}
}

func TestBuildUpdateBacktick(t *testing.T) {
	tbl := model.Table{Name: "users", RowIDColumn: "rowid"}
	stmt, err := BuildUpdate(tbl, model.RowOf("rowid", 7), "name", "Bob", Backtick)
	if err != nil {
		t.Fatalf("BuildUpdate returned error: %v", err)
	}
	if want := "UPDATE `users` SET `name` = ? WHERE `rowid` = ?"; stmt.SQL != want {
		t.Fatalf("SQL = %s; want %s", stmt.SQL, want)
	}
}
