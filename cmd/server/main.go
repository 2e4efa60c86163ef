package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"

	"github.com/SimonWaldherr/dbhub/internal/api"
	"github.com/SimonWaldherr/dbhub/internal/config"
	"github.com/SimonWaldherr/dbhub/internal/health"
	"github.com/SimonWaldherr/dbhub/internal/model"
	"github.com/SimonWaldherr/dbhub/internal/registry"
	"github.com/SimonWaldherr/dbhub/internal/repository"
	"github.com/SimonWaldherr/dbhub/internal/sqlconn"
)

// Flags
var (
	flagConfig  = flag.String("config", "", "YAML configuration file (optional)")
	flagDSN     = flag.String("dsn", "", "Open one extra database under id \"default\" (e.g. sqlite::memory:)")
	flagHTTP    = flag.String("http", "", "HTTP listen address, overrides the config (\"off\" disables)")
	flagGRPC    = flag.String("grpc", "", "gRPC listen address, overrides the config (\"off\" disables)")
	flagVerbose = flag.Bool("v", false, "Verbose logging")
)

const (
	pingTimeout     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "dbhub ", log.LstdFlags)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			return cfg, err
		}
	}
	applyFlags(&cfg, *flagHTTP, *flagGRPC, *flagDSN)
	return cfg, cfg.Validate()
}

func applyFlags(cfg *config.Config, httpAddr, grpcAddr, dsn string) {
	override := func(dst *string, v string) {
		switch v {
		case "":
		case "off":
			*dst = ""
		default:
			*dst = v
		}
	}
	override(&cfg.HTTP, httpAddr)
	override(&cfg.GRPC, grpcAddr)
	if dsn != "" {
		cfg.Databases = append(cfg.Databases, config.Database{ID: "default", DSN: dsn})
	}
}

// openDatabases registers every configured database that can be opened.
// Failures are logged and skipped so one broken DSN does not take the
// server down.
func openDatabases(ctx context.Context, repo *repository.Repository, dbs []config.Database, logger *log.Logger) []model.DatabaseID {
	ids := make([]model.DatabaseID, 0, len(dbs))
	for _, db := range dbs {
		conn, err := sqlconn.Open(ctx, db.DSN)
		if err != nil {
			logger.Printf("database %s: %v", db.ID, err)
			continue
		}
		id := model.DatabaseID(db.ID)
		repo.AddConnection(id, conn)
		ids = append(ids, id)
		logger.Printf("database %s: %s ready", db.ID, conn.Dialect())
	}
	return ids
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	var httpLis, grpcLis net.Listener
	var err error
	if cfg.HTTP != "" {
		if httpLis, err = net.Listen("tcp", cfg.HTTP); err != nil {
			return fmt.Errorf("HTTP listen: %w", err)
		}
	}
	if cfg.GRPC != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPC); err != nil {
			if httpLis != nil {
				_ = httpLis.Close()
			}
			return fmt.Errorf("gRPC listen: %w", err)
		}
	}
	return serve(ctx, cfg, logger, httpLis, grpcLis)
}

// serve runs until ctx is done or a listener fails, then shuts the servers
// down and releases every connection.
func serve(ctx context.Context, cfg config.Config, logger *log.Logger, httpLis, grpcLis net.Listener) error {
	repo := repository.New(registry.Config{MailboxSize: registry.DefaultConfig().MailboxSize, Logger: logger})
	ids := openDatabases(ctx, repo, cfg.Databases, logger)

	checker := health.New(repo, ids, pingTimeout, logger)
	if cfg.HealthCheck != "" {
		if err := checker.Start(cfg.HealthCheck); err != nil {
			_ = repo.Release(context.Background())
			return err
		}
	}

	srv := api.NewServer(repo, api.Options{Health: checker, Logger: logger, Verbose: *flagVerbose})
	errc := make(chan error, 2)

	var gs *grpc.Server
	if grpcLis != nil {
		gs = grpc.NewServer()
		api.RegisterRepositoryServer(gs, srv)
		logger.Printf("gRPC listening on %s", grpcLis.Addr())
		go func() {
			if err := gs.Serve(grpcLis); err != nil {
				errc <- fmt.Errorf("gRPC serve: %w", err)
			}
		}()
	}

	var hs *http.Server
	if httpLis != nil {
		hs = &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
		logger.Printf("HTTP listening on %s", httpLis.Addr())
		go func() {
			if err := hs.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("HTTP serve: %w", err)
			}
		}()
	}

	var result *multierror.Error
	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
	case err := <-errc:
		result = multierror.Append(result, err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if hs != nil {
		if err := hs.Shutdown(sctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if gs != nil {
		gs.GracefulStop()
	}
	if cfg.HealthCheck != "" {
		checker.Stop()
	}
	if err := repo.Release(sctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
