// Package api exposes a Repository over gRPC (JSON codec, no protobuf) and
// plain HTTP JSON, plus a gRPC client for it.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/SimonWaldherr/dbhub/internal/model"
	"github.com/SimonWaldherr/dbhub/internal/repository"
)

// Error codes carried in responses.
const (
	CodeNotFound             = "not_found"
	CodeNoIdentifyingColumns = "no_identifying_columns"
	CodeBadRequest           = "bad_request"
	CodeEngine               = "engine"
)

type SchemaRequest struct {
	ID string `json:"id"`
}

type SchemaResponse struct {
	Schema   *model.Schema `json:"schema,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Duration string        `json:"duration"`
}

type QueryRequest struct {
	ID     string        `json:"id"`
	SQL    string        `json:"sql"`
	Params []model.Value `json:"params,omitempty"`
}

type QueryResponse struct {
	Result   *model.ResultSet `json:"result,omitempty"`
	Count    int              `json:"count"`
	Error    string           `json:"error,omitempty"`
	Code     string           `json:"code,omitempty"`
	Duration string           `json:"duration"`
}

type ExecRequest struct {
	ID     string        `json:"id"`
	SQL    string        `json:"sql"`
	Params []model.Value `json:"params,omitempty"`
}

type UpdateRequest struct {
	ID     string      `json:"id"`
	Table  model.Table `json:"table"`
	Row    model.Row   `json:"row"`
	Column string      `json:"column"`
	Value  model.Value `json:"value"`
}

type CloseRequest struct {
	ID string `json:"id"`
}

// ExecResponse answers Exec, Update and Close.
type ExecResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
	Duration string `json:"duration"`
}

// RemoteError is a failure reported by the server. errors.Is matches the
// repository sentinel errors for the corresponding codes.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return repository.ErrConnectionNotFound
	case CodeNoIdentifyingColumns:
		return repository.ErrNoIdentifyingColumns
	default:
		return nil
	}
}

func remoteError(code, msg string) error {
	if msg == "" && code == "" {
		return nil
	}
	return &RemoteError{Code: code, Message: msg}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, repository.ErrConnectionNotFound):
		return CodeNotFound
	case errors.Is(err, repository.ErrNoIdentifyingColumns):
		return CodeNoIdentifyingColumns
	default:
		return CodeEngine
	}
}

// jsonCodec is the gRPC codec. Numbers are decoded as json.Number so
// integers survive the trip; see normalize.
type jsonCodec struct{}

func (jsonCodec) Name() string                  { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error {
	return decodeJSON(bytes.NewReader(data), v)
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// normalize turns json.Number into int64 when it is integral and float64
// otherwise, recursing into slices and maps.
func normalize(v model.Value) model.Value {
	switch x := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalize(x[k])
		}
		return x
	default:
		return v
	}
}

func normalizeAll(vs []model.Value) []model.Value {
	for i := range vs {
		vs[i] = normalize(vs[i])
	}
	return vs
}

func normalizeRow(row model.Row) model.Row {
	for i := range row {
		row[i].Value = normalize(row[i].Value)
	}
	return row
}

func normalizeResult(rs *model.ResultSet) *model.ResultSet {
	if rs == nil {
		return nil
	}
	for _, row := range rs.Rows {
		normalizeRow(row)
	}
	return rs
}
