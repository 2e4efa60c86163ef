package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/SimonWaldherr/dbhub/internal/health"
	"github.com/SimonWaldherr/dbhub/internal/model"
	"github.com/SimonWaldherr/dbhub/internal/registry"
	"github.com/SimonWaldherr/dbhub/internal/repository"
	"github.com/SimonWaldherr/dbhub/internal/testhelper"
)

var usersTable = model.Table{
	Name:        "users",
	RowIDColumn: "rowid",
	Columns: []model.Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true, KeySeq: 1},
		{Name: "name", Type: "TEXT"},
	},
}

func newTestServer(t *testing.T) (*Server, *testhelper.FakeConn) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	repo := repository.New(registry.Config{Logger: logger})
	t.Cleanup(func() { _ = repo.Release(context.Background()) })

	fc := &testhelper.FakeConn{
		Schema: &model.Schema{Tables: []model.Table{usersTable}},
		Result: &model.ResultSet{
			Columns: []string{"id", "name"},
			Rows:    []model.Row{model.RowOf("id", int64(1), "name", "Ada")},
		},
	}
	repo.AddConnection("main", fc)
	return NewServer(repo, Options{Logger: logger, Verbose: true}), fc
}

func dialBufconn(t *testing.T, srv *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterRepositoryServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial returned error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCRoundTrip(t *testing.T) {
	srv, fc := newTestServer(t)
	client := dialBufconn(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema, err := client.FetchSchema(ctx, "main")
	if err != nil {
		t.Fatalf("FetchSchema returned error: %v", err)
	}
	if !reflect.DeepEqual(schema.Tables, []model.Table{usersTable}) {
		t.Fatalf("unexpected schema: %+v", schema)
	}

	rs, err := client.RunQuery(ctx, "main", model.NewStatement("SELECT id, name FROM users WHERE id = ?", 1))
	if err != nil {
		t.Fatalf("RunQuery returned error: %v", err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rs.Rows))
	}
	if v, _ := rs.Rows[0].Get("id"); v != int64(1) {
		t.Fatalf("id = %#v; want int64(1)", v)
	}
	if got := fc.Queries()[0].Params; !reflect.DeepEqual(got, []model.Value{int64(1)}) {
		t.Fatalf("params reached the connection as %#v", got)
	}

	if err := client.ExecuteStatement(ctx, "main", model.NewStatement("DELETE FROM users WHERE id = ?", 2)); err != nil {
		t.Fatalf("ExecuteStatement returned error: %v", err)
	}
	if err := client.UpdateTable(ctx, "main", usersTable, model.RowOf("rowid", 7, "name", "Ada"), "name", "Bob"); err != nil {
		t.Fatalf("UpdateTable returned error: %v", err)
	}
	execs := fc.Execs()
	if len(execs) != 2 {
		t.Fatalf("expected 2 executes, got %d", len(execs))
	}
	if want := `UPDATE "users" SET "name" = ? WHERE "rowid" = ?`; execs[1].SQL != want {
		t.Fatalf("SQL = %s; want %s", execs[1].SQL, want)
	}
	if !reflect.DeepEqual(execs[1].Params, []model.Value{"Bob", int64(7)}) {
		t.Fatalf("params = %#v", execs[1].Params)
	}
}

func TestGRPCErrorsKeepIdentity(t *testing.T) {
	srv, fc := newTestServer(t)
	client := dialBufconn(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.FetchSchema(ctx, "missing")
	if !errors.Is(err, repository.ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound, got %v", err)
	}

	err = client.UpdateTable(ctx, "main", usersTable, model.RowOf("name", "Ada"), "name", "Bob")
	if !errors.Is(err, repository.ErrNoIdentifyingColumns) {
		t.Fatalf("expected ErrNoIdentifyingColumns, got %v", err)
	}
	if len(fc.Execs()) != 0 {
		t.Fatalf("nothing should have been executed")
	}

	var remote *RemoteError
	fc.SetErr(errors.New("no such table: nope"))
	_, err = client.RunQuery(ctx, "main", model.NewStatement("SELECT * FROM nope"))
	if !errors.As(err, &remote) || remote.Code != CodeEngine || remote.Message != "no such table: nope" {
		t.Fatalf("expected engine RemoteError, got %#v", err)
	}
}

func TestGRPCClose(t *testing.T) {
	srv, fc := newTestServer(t)
	client := dialBufconn(t, srv)
	ctx := context.Background()

	if err := client.CloseConnection(ctx, "main"); err != nil {
		t.Fatalf("CloseConnection returned error: %v", err)
	}
	if !fc.WaitClosed(1, 2*time.Second) {
		t.Fatalf("connection was not closed")
	}
	if err := client.CloseConnection(ctx, "main"); err != nil {
		t.Fatalf("second CloseConnection returned error: %v", err)
	}
	if _, err := client.FetchSchema(ctx, "main"); !errors.Is(err, repository.ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound after close, got %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestHTTPHandlers(t *testing.T) {
	srv, fc := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"schema", http.MethodPost, "/api/schema", `{"id":"main"}`, http.StatusOK, ""},
		{"query", http.MethodPost, "/api/query", `{"id":"main","sql":"SELECT * FROM users"}`, http.StatusOK, ""},
		{"exec", http.MethodPost, "/api/exec", `{"id":"main","sql":"DELETE FROM users WHERE id = ?","params":[3]}`, http.StatusOK, ""},
		{"update by key", http.MethodPost, "/api/update", `{"id":"main","table":{"name":"users","columns":[{"name":"id","primary_key":true}]},"row":[{"column":"id","value":3}],"column":"name","value":"Eve"}`, http.StatusOK, ""},
		{"unknown id", http.MethodPost, "/api/schema", `{"id":"nope"}`, http.StatusNotFound, CodeNotFound},
		{"no identifying columns", http.MethodPost, "/api/update", `{"id":"main","table":{"name":"users","columns":[{"name":"id","primary_key":true}]},"row":[{"column":"name","value":"x"}],"column":"name","value":"y"}`, http.StatusUnprocessableEntity, CodeNoIdentifyingColumns},
		{"empty sql", http.MethodPost, "/api/exec", `{"id":"main","sql":"  "}`, http.StatusBadRequest, CodeBadRequest},
		{"bad json", http.MethodPost, "/api/query", `{"id":`, http.StatusBadRequest, ""},
		{"wrong method", http.MethodGet, "/api/query", ``, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := doJSON(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d; want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.code != "" && out["code"] != tt.code {
				t.Fatalf("code = %v; want %s", out["code"], tt.code)
			}
		})
	}

	execs := fc.Execs()
	if len(execs) != 2 {
		t.Fatalf("expected 2 executes, got %d", len(execs))
	}
	if !reflect.DeepEqual(execs[0].Params, []model.Value{int64(3)}) {
		t.Fatalf("exec params = %#v", execs[0].Params)
	}
	if want := `UPDATE "users" SET "name" = ? WHERE "id" = ?`; execs[1].SQL != want {
		t.Fatalf("SQL = %s; want %s", execs[1].SQL, want)
	}
}

type pingRepo struct{ errs map[model.DatabaseID]error }

func (p pingRepo) Ping(ctx context.Context, id model.DatabaseID) error { return p.errs[id] }

func TestHTTPStatus(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	repo := repository.New(registry.Config{Logger: logger})
	defer repo.Release(context.Background())
	repo.AddConnection("a", &testhelper.FakeConn{})

	checker := health.New(pingRepo{errs: map[model.DatabaseID]error{"b": errors.New("down")}}, []model.DatabaseID{"a", "b"}, time.Second, logger)
	checker.CheckNow(context.Background())
	srv := NewServer(repo, Options{Health: checker, Logger: logger})

	// The registry counts the Add once its message is processed.
	if _, err := repo.FetchSchema(context.Background(), "a"); err != nil {
		t.Fatalf("FetchSchema returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st Status
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&st); err != nil {
		t.Fatalf("invalid status body: %v", err)
	}
	if st.OK {
		t.Fatalf("expected ok=false with an unhealthy database")
	}
	if st.Registry.Registered != 1 {
		t.Fatalf("registered = %d; want 1", st.Registry.Registered)
	}
	if len(st.Health) != 2 || st.Health[1].ID != "b" || st.Health[1].Healthy {
		t.Fatalf("unexpected health: %+v", st.Health)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   model.Value
		want model.Value
	}{
		{json.Number("42"), int64(42)},
		{json.Number("-7"), int64(-7)},
		{json.Number("1.5"), 1.5},
		{json.Number("1e3"), 1000.0},
		{"text", "text"},
		{nil, nil},
		{[]any{json.Number("1"), "x"}, []any{int64(1), "x"}},
	}
	for _, tt := range tests {
		if got := normalize(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("normalize(%#v) = %#v; want %#v", tt.in, got, tt.want)
		}
	}
}

func TestHTTPQueryExport(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/api/query?format=csv", `{"id":"main","sql":"SELECT id, name FROM users"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec.Body.String() != "id,name\n1,Ada\n" {
		t.Fatalf("CSV = %q", rec.Body.String())
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/query?format=gob", `{"id":"main","sql":"SELECT 1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400 for unknown format", rec.Code)
	}

	rec, out := doJSON(t, h, http.MethodPost, "/api/query?format=csv", `{"id":"nope","sql":"SELECT 1"}`)
	if rec.Code != http.StatusNotFound || out["code"] != CodeNotFound {
		t.Fatalf("status = %d code = %v; want 404 not_found", rec.Code, out["code"])
	}
}

func TestHTTPImport(t *testing.T) {
	srv, fc := newTestServer(t)
	h := srv.Handler()

	rec, out := doJSON(t, h, http.MethodPost, "/api/import?id=main&table=USERS", "id,name\n5,Zed\n6,Yun\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	result, _ := out["result"].(map[string]any)
	if result["rows_inserted"] != 2.0 {
		t.Fatalf("rows_inserted = %v", result["rows_inserted"])
	}
	execs := fc.Execs()
	if len(execs) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(execs))
	}
	if want := `INSERT INTO "users" ("id", "name") VALUES (?, ?), (?, ?)`; execs[0].SQL != want {
		t.Fatalf("SQL = %s; want %s", execs[0].SQL, want)
	}
	if !reflect.DeepEqual(execs[0].Params, []model.Value{int64(5), "Zed", int64(6), "Yun"}) {
		t.Fatalf("params = %#v", execs[0].Params)
	}

	tests := []struct {
		path, body string
		status     int
	}{
		{"/api/import?id=main", "id\n1\n", http.StatusBadRequest},
		{"/api/import?id=main&table=nope", "id\n1\n", http.StatusNotFound},
		{"/api/import?id=nope&table=users", "id\n1\n", http.StatusNotFound},
		{"/api/import?id=main&table=users", "id,color\n1,red\n", http.StatusBadRequest},
		{"/api/import?id=main&table=users&delimiter=ab", "id\n1\n", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec, _ := doJSON(t, h, http.MethodPost, tt.path, tt.body); rec.Code != tt.status {
			t.Errorf("POST %s: status = %d; want %d", tt.path, rec.Code, tt.status)
		}
	}
}
