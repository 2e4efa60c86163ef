package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/SimonWaldherr/dbhub/internal/exporter"
	"github.com/SimonWaldherr/dbhub/internal/importer"
	"github.com/SimonWaldherr/dbhub/internal/model"
)

const (
	maxBodyBytes   = 8 << 20
	maxImportBytes = 1 << 30
)

// Handler returns the HTTP API:
//
//	POST /api/schema  {"id"}
//	POST /api/query   {"id","sql","params"}  ?format=csv|json|xml exports the rows
//	POST /api/exec    {"id","sql","params"}
//	POST /api/update  {"id","table","row","column","value"}
//	POST /api/close   {"id"}
//	POST /api/import?id=..&table=..&delimiter=..  CSV body
//	GET  /api/status
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/schema", post(s, (*Server).FetchSchema))
	mux.HandleFunc("/api/query", s.handleQuery(post(s, (*Server).Query)))
	mux.HandleFunc("/api/exec", post(s, (*Server).Exec))
	mux.HandleFunc("/api/update", post(s, (*Server).Update))
	mux.HandleFunc("/api/close", post(s, (*Server).Close))
	mux.HandleFunc("/api/import", s.handleImport)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

// coded is implemented by every response type.
type coded interface{ errCode() string }

func (r *SchemaResponse) errCode() string { return r.Code }
func (r *QueryResponse) errCode() string  { return r.Code }
func (r *ExecResponse) errCode() string   { return r.Code }

func post[Req any, Resp coded](s *Server, call func(*Server, context.Context, *Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		req := new(Req)
		if err := decodeJSON(io.LimitReader(r.Body, maxBodyBytes), req); err != nil {
			http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := call(s, r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, httpStatus(resp.errCode()), resp)
	}
}

// handleQuery serves the plain response unless a format is requested.
func (s *Server) handleQuery(plain http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("format")
		if name == "" || r.Method != http.MethodPost {
			plain(w, r)
			return
		}
		format, err := exporter.ParseFormat(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req QueryRequest
		if err := decodeJSON(io.LimitReader(r.Body, maxBodyBytes), &req); err != nil {
			http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		resp, _ := s.Query(r.Context(), &req)
		if resp.Code != "" {
			writeJSON(w, httpStatus(resp.Code), resp)
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		if err := exporter.Export(w, resp.Result, format, exporter.Options{}); err != nil {
			s.logger.Printf("api: export %s: %v", format, err)
		}
	}
}

// ImportResponse answers POST /api/import.
type ImportResponse struct {
	Result   *importer.Result `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
	Code     string           `json:"code,omitempty"`
	Duration string           `json:"duration"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	q := r.URL.Query()
	id, name := model.DatabaseID(q.Get("id")), q.Get("table")
	fail := func(code string, err error) {
		s.logf("import %s.%s: %v", id, name, err)
		writeJSON(w, httpStatus(code), &ImportResponse{Error: err.Error(), Code: code, Duration: time.Since(start).String()})
	}
	if name == "" {
		fail(CodeBadRequest, errors.New("table is required"))
		return
	}
	opts := &importer.Options{}
	if d := q.Get("delimiter"); d != "" {
		if d == `\t` {
			d = "\t"
		}
		if utf8.RuneCountInString(d) != 1 {
			fail(CodeBadRequest, fmt.Errorf("delimiter must be one character, got %q", d))
			return
		}
		opts.Delimiter, _ = utf8.DecodeRuneInString(d)
	}

	schema, err := s.repo.FetchSchema(r.Context(), id)
	if err != nil {
		fail(errorCode(err), err)
		return
	}
	table, ok := schema.Table(name)
	if !ok {
		fail(CodeNotFound, fmt.Errorf("table %q not found", name))
		return
	}
	res, err := s.repo.ImportCSV(r.Context(), id, table, io.LimitReader(r.Body, maxImportBytes), opts)
	if err != nil {
		code := errorCode(err)
		if errors.Is(err, importer.ErrNoHeader) || errors.Is(err, importer.ErrUnknownColumn) {
			code = CodeBadRequest
		}
		s.logf("import %s.%s: %v", id, name, err)
		writeJSON(w, httpStatus(code), &ImportResponse{Result: res, Error: err.Error(), Code: code, Duration: time.Since(start).String()})
		return
	}
	s.logf("import %s.%s: %d rows", id, name, res.RowsInserted)
	writeJSON(w, http.StatusOK, &ImportResponse{Result: res, Duration: time.Since(start).String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func httpStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNoIdentifyingColumns:
		return http.StatusUnprocessableEntity
	case CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
