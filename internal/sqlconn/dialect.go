package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"   // registers "mysql"
	_ "github.com/jackc/pgx/v5/stdlib"   // registers "pgx"
	_ "github.com/microsoft/go-mssqldb" // registers "sqlserver"
	_ "modernc.org/sqlite"              // registers "sqlite"

	"github.com/SimonWaldherr/dbhub/internal/model"
	"github.com/SimonWaldherr/dbhub/internal/where"
)

type dialect struct {
	name        string
	driver      string
	quoter      where.Quoter
	bytesAsText bool
	readSchema  func(ctx context.Context, c *Conn) (*model.Schema, error)
}

var dialects = map[string]*dialect{
	"sqlite": {
		name:       "sqlite",
		driver:     "sqlite",
		quoter:     where.ANSI,
		readSchema: readSQLiteSchema,
	},
	"postgres": {
		name:       "postgres",
		driver:     "pgx",
		quoter:     where.ANSI,
		readSchema: infoSchemaReader("current_schema()"),
	},
	"mysql": {
		name:        "mysql",
		driver:      "mysql",
		quoter:      where.Backtick,
		bytesAsText: true,
		readSchema:  infoSchemaReader("DATABASE()"),
	},
	"sqlserver": {
		name:       "sqlserver",
		driver:     "sqlserver",
		quoter:     where.Bracket,
		readSchema: infoSchemaReader("SCHEMA_NAME()"),
	},
}

// convert normalizes driver values for results. The MySQL driver hands out
// text columns as []byte.
func (d *dialect) convert(v any) any {
	if b, ok := v.([]byte); ok && d.bytesAsText {
		return string(b)
	}
	return v
}

func readSQLiteSchema(ctx context.Context, c *Conn) (*model.Schema, error) {
	type master struct {
		name string
		ddl  string
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, COALESCE(sql, '') FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var tables []master
	for rows.Next() {
		var m master
		if err := rows.Scan(&m.name, &m.ddl); err != nil {
			rows.Close()
			return nil, err
		}
		tables = append(tables, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	schema := &model.Schema{}
	for _, m := range tables {
		t := model.Table{Name: m.name}
		if !strings.Contains(strings.ToUpper(m.ddl), "WITHOUT ROWID") {
			t.RowIDColumn = "rowid"
		}
		cols, err := sqliteColumns(ctx, c, m.name)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", m.name, err)
		}
		t.Columns = cols
		schema.Tables = append(schema.Tables, t)
	}
	return schema, nil
}

func sqliteColumns(ctx context.Context, c *Conn, table string) ([]model.Column, error) {
	rows, err := c.db.QueryContext(ctx, "PRAGMA table_info("+where.ANSI.QuoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []model.Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, model.Column{Name: name, Type: typ, PrimaryKey: pk > 0, KeySeq: pk})
	}
	return cols, rows.Err()
}

// infoSchemaReader reads tables, columns and primary keys from
// information_schema, restricted to the schema returned by currentSchema.
func infoSchemaReader(currentSchema string) func(ctx context.Context, c *Conn) (*model.Schema, error) {
	query := `SELECT c.table_name, c.column_name, c.data_type, COALESCE(k.ordinal_position, 0)
FROM information_schema.columns c
LEFT JOIN information_schema.table_constraints tc
  ON tc.table_schema = c.table_schema AND tc.table_name = c.table_name AND tc.constraint_type = 'PRIMARY KEY'
LEFT JOIN information_schema.key_column_usage k
  ON k.constraint_name = tc.constraint_name AND k.table_schema = c.table_schema
  AND k.table_name = c.table_name AND k.column_name = c.column_name
WHERE c.table_schema = ` + currentSchema + `
ORDER BY c.table_name, c.ordinal_position`

	return func(ctx context.Context, c *Conn) (*model.Schema, error) {
		rows, err := c.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		schema := &model.Schema{}
		for rows.Next() {
			var (
				table, column, typ string
				seq                int64
			)
			if err := rows.Scan(&table, &column, &typ, &seq); err != nil {
				return nil, err
			}
			n := len(schema.Tables)
			if n == 0 || schema.Tables[n-1].Name != table {
				schema.Tables = append(schema.Tables, model.Table{Name: table})
				n++
			}
			schema.Tables[n-1].Columns = append(schema.Tables[n-1].Columns, model.Column{
				Name:       column,
				Type:       typ,
				PrimaryKey: seq > 0,
				KeySeq:     int(seq),
			})
		}
		return schema, rows.Err()
	}
}
