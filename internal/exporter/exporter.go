// Package exporter renders query results as CSV, JSON or XML.
package exporter

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/SimonWaldherr/dbhub/internal/model"
)

// Format names an export format.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
	XML  Format = "xml"
)

// ParseFormat accepts csv, json or xml in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, JSON, XML:
		return f, nil
	default:
		return "", fmt.Errorf("exporter: unknown format %q", s)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case XML:
		return "application/xml; charset=utf-8"
	default:
		return "application/json"
	}
}

// Options controls exporter behavior.
type Options struct {
	PrettyJSON   bool
	CSVNoHeader  bool
	CSVDelimiter rune
}

// Export writes rs to w in format f.
func Export(w io.Writer, rs *model.ResultSet, f Format, opts Options) error {
	if rs == nil {
		rs = &model.ResultSet{}
	}
	switch f {
	case CSV:
		return ExportCSV(w, rs, opts)
	case JSON:
		return ExportJSON(w, rs, opts)
	case XML:
		return ExportXML(w, rs)
	default:
		return fmt.Errorf("exporter: unknown format %q", f)
	}
}

// cell returns the value of column i. Rows are positional so duplicate
// column names (a.id, b.id) keep their own values.
func cell(r model.Row, i int) model.Value {
	if i < len(r) {
		return r[i].Value
	}
	return nil
}

func valueToString(v model.Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// ExportCSV writes a header line (unless disabled) and one line per row.
func ExportCSV(w io.Writer, rs *model.ResultSet, opts Options) error {
	cw := csv.NewWriter(w)
	if opts.CSVDelimiter != 0 {
		cw.Comma = opts.CSVDelimiter
	}
	if !opts.CSVNoHeader {
		if err := cw.Write(rs.Columns); err != nil {
			return err
		}
	}
	line := make([]string, len(rs.Columns))
	for _, r := range rs.Rows {
		for i := range rs.Columns {
			line[i] = valueToString(cell(r, i))
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportJSON writes the rows as a JSON array of objects keyed by column.
func ExportJSON(w io.Writer, rs *model.ResultSet, opts Options) error {
	enc := json.NewEncoder(w)
	if opts.PrettyJSON {
		enc.SetIndent("", "  ")
	}
	out := make([]map[string]any, len(rs.Rows))
	for i, r := range rs.Rows {
		m := make(map[string]any, len(rs.Columns))
		for j, c := range rs.Columns {
			m[c] = cell(r, j)
		}
		out[i] = m
	}
	return enc.Encode(out)
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type xmlRow struct {
	Fields []xmlField `xml:",any"`
}

type xmlRows struct {
	XMLName xml.Name `xml:"rows"`
	Rows    []xmlRow `xml:"row"`
}

// ExportXML writes <rows><row><col>value</col>...</row>...</rows>.
// Column names that are not valid XML names are written as <col>.
func ExportXML(w io.Writer, rs *model.ResultSet) error {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = xmlName(c)
	}
	doc := xmlRows{Rows: make([]xmlRow, 0, len(rs.Rows))}
	for _, r := range rs.Rows {
		row := xmlRow{Fields: make([]xmlField, 0, len(names))}
		for i, n := range names {
			row.Fields = append(row.Fields, xmlField{XMLName: xml.Name{Local: n}, Value: valueToString(cell(r, i))})
		}
		doc.Rows = append(doc.Rows, row)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Flush()
}

func xmlName(s string) string {
	if s == "" || strings.HasPrefix(strings.ToLower(s), "xml") {
		return "col"
	}
	for i, r := range s {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i == 0 && !letter {
			return "col"
		}
		if !letter && r != '-' && r != '.' && (r < '0' || r > '9') {
			return "col"
		}
	}
	return s
}
