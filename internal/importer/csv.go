// Package importer loads delimited text into an existing table.
//
// Features:
//   - Auto-detect delimiter: ',', ';', '\t', '|' (configurable)
//   - Encoding: UTF-8, UTF-8 BOM, UTF-16LE/BE (BOM-based)
//   - Transparent GZIP input
//   - Values converted by the target column's declared type
//   - Batched multi-row INSERTs
//
// The first record is always the header and must name columns of the table.
package importer

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

// Executor runs one statement against the target database.
type Executor interface {
	Execute(ctx context.Context, stmt model.Statement) error
}

// ExecFunc adapts a function to Executor.
type ExecFunc func(ctx context.Context, stmt model.Statement) error

func (f ExecFunc) Execute(ctx context.Context, stmt model.Statement) error { return f(ctx, stmt) }

// Quoter quotes identifiers for the target engine.
type Quoter interface {
	QuoteIdent(name string) string
}

// Options configures ImportCSV. All fields are optional.
type Options struct {
	// BatchSize is the number of rows per INSERT (default 500).
	BatchSize int
	// Delimiter forces the field separator; 0 means detect.
	Delimiter rune
	// NullLiterals are read as NULL, compared case-insensitively after
	// trimming. Default: "", "null", "na", "n/a", "none", "#n/a".
	NullLiterals []string
}

// Result describes a finished import.
type Result struct {
	RowsInserted int64    `json:"rows_inserted"`
	Delimiter    string   `json:"delimiter"`
	Encoding     string   `json:"encoding"`
	Columns      []string `json:"columns"`
}

var (
	ErrNoHeader      = errors.New("importer: input has no header")
	ErrUnknownColumn = errors.New("importer: column not in table")
)

const sampleBytes = 64 << 10

var defaultNulls = []string{"", "null", "na", "n/a", "none", "#n/a"}

// ImportCSV reads src and inserts its records into table through exec.
// Rows already inserted stay inserted when a later batch fails.
func ImportCSV(ctx context.Context, exec Executor, q Quoter, table model.Table, src io.Reader, opts *Options) (*Result, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.NullLiterals == nil {
		o.NullLiterals = defaultNulls
	}

	br := bufio.NewReader(maybeGzip(src))
	res := &Result{Encoding: detectEncoding(peekN(br, 4))}
	br = bufio.NewReaderSize(transform.NewReader(br, unicode.BOMOverride(unicode.UTF8.NewDecoder())), sampleBytes)

	delim := o.Delimiter
	if delim == 0 {
		delim = detectDelimiter(splitLines(peekN(br, sampleBytes)))
	}
	res.Delimiter = string(delim)

	r := csv.NewReader(br)
	r.Comma = delim
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return res, ErrNoHeader
	}
	if err != nil {
		return res, fmt.Errorf("importer: header: %w", err)
	}
	cols := make([]model.Column, len(header))
	for i, h := range header {
		c, ok := table.Column(strings.TrimSpace(h))
		if !ok {
			return res, fmt.Errorf("%w: %q (table %s)", ErrUnknownColumn, h, table.Name)
		}
		cols[i] = c
		res.Columns = append(res.Columns, c.Name)
	}
	r.FieldsPerRecord = len(cols)

	prefix := insertPrefix(q, table.Name, cols)
	batch := make([][]model.Value, 0, o.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := exec.Execute(ctx, insertStatement(prefix, batch)); err != nil {
			return fmt.Errorf("importer: insert after %d rows: %w", res.RowsInserted, err)
		}
		res.RowsInserted += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("importer: %w", err)
		}
		row := make([]model.Value, len(cols))
		for i, raw := range rec {
			v, err := convertValue(raw, cols[i].Type, o.NullLiterals)
			if err != nil {
				return res, fmt.Errorf("importer: line %d column %s: %w", line, cols[i].Name, err)
			}
			row[i] = v
		}
		batch = append(batch, row)
		if len(batch) == o.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	return res, flush()
}

func insertPrefix(q Quoter, table string, cols []model.Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = q.QuoteIdent(c.Name)
	}
	return "INSERT INTO " + q.QuoteIdent(table) + " (" + strings.Join(names, ", ") + ") VALUES "
}

func insertStatement(prefix string, rows [][]model.Value) model.Statement {
	var sb strings.Builder
	sb.WriteString(prefix)
	params := make([]model.Value, 0, len(rows)*len(rows[0]))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('?')
		}
		sb.WriteByte(')')
		params = append(params, row...)
	}
	return model.Statement{SQL: sb.String(), Params: params}
}

func maybeGzip(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(2)
	if len(magic) == 2 && magic[0] == 0x1F && magic[1] == 0x8B {
		if gr, err := gzip.NewReader(br); err == nil {
			return gr
		}
	}
	return br
}

func detectEncoding(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return "utf-8-bom"
	case bytes.HasPrefix(b, []byte{0xFF, 0xFE}):
		return "utf-16le"
	case bytes.HasPrefix(b, []byte{0xFE, 0xFF}):
		return "utf-16be"
	default:
		return "utf-8"
	}
}

func peekN(br *bufio.Reader, n int) []byte {
	b, _ := br.Peek(n)
	return b
}

func splitLines(b []byte) []string {
	lines := strings.FieldsFunc(string(b), func(r rune) bool { return r == '\n' || r == '\r' })
	// The last line of a sample may be cut off.
	if len(lines) > 1 && len(b) >= sampleBytes {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// detectDelimiter picks the candidate that splits every sampled line into
// the same number of fields, preferring more fields.
func detectDelimiter(lines []string) rune {
	if len(lines) > 200 {
		lines = lines[:200]
	}
	best, bestFields := ',', 1
	for _, cand := range []rune{',', ';', '\t', '|'} {
		fields := -1
		for _, ln := range lines {
			n := countDelimsOutsideQuotes(ln, cand) + 1
			if fields == -1 {
				fields = n
			} else if n != fields {
				fields = 0
				break
			}
		}
		if fields > bestFields {
			best, bestFields = cand, fields
		}
	}
	return best
}

func countDelimsOutsideQuotes(ln string, delim rune) int {
	inQ := false
	count := 0
	for i := 0; i < len(ln); {
		r, w := utf8.DecodeRuneInString(ln[i:])
		switch {
		case r == '"':
			inQ = !inQ
		case r == delim && !inQ:
			count++
		}
		i += w
	}
	return count
}
