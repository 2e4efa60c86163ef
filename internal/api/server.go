package api

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/SimonWaldherr/dbhub/internal/health"
	"github.com/SimonWaldherr/dbhub/internal/model"
	"github.com/SimonWaldherr/dbhub/internal/registry"
	"github.com/SimonWaldherr/dbhub/internal/repository"
)

// RepositoryServer is the gRPC service implemented by Server.
type RepositoryServer interface {
	FetchSchema(context.Context, *SchemaRequest) (*SchemaResponse, error)
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
	Exec(context.Context, *ExecRequest) (*ExecResponse, error)
	Update(context.Context, *UpdateRequest) (*ExecResponse, error)
	Close(context.Context, *CloseRequest) (*ExecResponse, error)
}

// Options configure a Server. All fields are optional.
type Options struct {
	Health  *health.Checker
	Logger  *log.Logger
	Verbose bool
}

// Server serves a Repository over gRPC and HTTP. Failures are reported in
// the response body, never as transport errors.
type Server struct {
	repo    *repository.Repository
	health  *health.Checker
	logger  *log.Logger
	verbose bool
	started time.Time
}

var _ RepositoryServer = (*Server)(nil)

func NewServer(repo *repository.Repository, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		repo:    repo,
		health:  opts.Health,
		logger:  logger,
		verbose: opts.Verbose,
		started: time.Now(),
	}
}

func (s *Server) FetchSchema(ctx context.Context, req *SchemaRequest) (*SchemaResponse, error) {
	start := time.Now()
	schema, err := s.repo.FetchSchema(ctx, model.DatabaseID(req.ID))
	if err != nil {
		s.logf("schema %s: %v", req.ID, err)
		return &SchemaResponse{Error: err.Error(), Code: errorCode(err), Duration: time.Since(start).String()}, nil
	}
	return &SchemaResponse{Schema: schema, Duration: time.Since(start).String()}, nil
}

func (s *Server) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	if strings.TrimSpace(req.SQL) == "" {
		return &QueryResponse{Error: "sql is empty", Code: CodeBadRequest, Duration: time.Since(start).String()}, nil
	}
	stmt := model.NewStatement(req.SQL, normalizeAll(req.Params)...)
	rs, err := s.repo.RunQuery(ctx, model.DatabaseID(req.ID), stmt)
	if err != nil {
		s.logf("query %s: %s: %v", req.ID, stmt, err)
		return &QueryResponse{Error: err.Error(), Code: errorCode(err), Duration: time.Since(start).String()}, nil
	}
	if rs == nil {
		rs = &model.ResultSet{}
	}
	return &QueryResponse{Result: rs, Count: len(rs.Rows), Duration: time.Since(start).String()}, nil
}

func (s *Server) Exec(ctx context.Context, req *ExecRequest) (*ExecResponse, error) {
	start := time.Now()
	if strings.TrimSpace(req.SQL) == "" {
		return &ExecResponse{Error: "sql is empty", Code: CodeBadRequest, Duration: time.Since(start).String()}, nil
	}
	stmt := model.NewStatement(req.SQL, normalizeAll(req.Params)...)
	if err := s.repo.ExecuteStatement(ctx, model.DatabaseID(req.ID), stmt); err != nil {
		s.logf("exec %s: %s: %v", req.ID, stmt, err)
		return &ExecResponse{Error: err.Error(), Code: errorCode(err), Duration: time.Since(start).String()}, nil
	}
	return &ExecResponse{Success: true, Duration: time.Since(start).String()}, nil
}

func (s *Server) Update(ctx context.Context, req *UpdateRequest) (*ExecResponse, error) {
	start := time.Now()
	err := s.repo.UpdateTable(ctx, model.DatabaseID(req.ID), req.Table, normalizeRow(req.Row), req.Column, normalize(req.Value))
	if err != nil {
		s.logf("update %s.%s: %v", req.ID, req.Table.Name, err)
		return &ExecResponse{Error: err.Error(), Code: errorCode(err), Duration: time.Since(start).String()}, nil
	}
	return &ExecResponse{Success: true, Duration: time.Since(start).String()}, nil
}

func (s *Server) Close(ctx context.Context, req *CloseRequest) (*ExecResponse, error) {
	start := time.Now()
	id := model.DatabaseID(req.ID)
	s.repo.CloseConnection(id)
	if s.health != nil {
		s.health.Forget(id)
	}
	s.logf("closed %s", req.ID)
	return &ExecResponse{Success: true, Duration: time.Since(start).String()}, nil
}

// Status is the body of GET /api/status.
type Status struct {
	OK       bool                   `json:"ok"`
	Time     string                 `json:"time"`
	Uptime   string                 `json:"uptime"`
	Registry registry.StatsSnapshot `json:"registry"`
	Health   []health.Status        `json:"health,omitempty"`
}

func (s *Server) status() Status {
	st := Status{
		OK:       true,
		Time:     time.Now().Format(time.RFC3339),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Registry: s.repo.Registry().Stats().Snapshot(),
	}
	if s.health != nil {
		st.Health = s.health.Snapshot()
		for _, h := range st.Health {
			if !h.Healthy {
				st.OK = false
			}
		}
	}
	return st
}

func (s *Server) logf(format string, args ...any) {
	if s.verbose {
		s.logger.Printf("api: "+format, args...)
	}
}
