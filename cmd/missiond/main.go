// Command missiond runs the mission orchestration daemon: the run-loop
// controller, checkpoint store, cost ledger, retry-loop detector and
// approval workflow engine behind one HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orchestry/missiond/internal/adapter/filestore"
	mdhttp "github.com/orchestry/missiond/internal/adapter/http"
	"github.com/orchestry/missiond/internal/adapter/litellm"
	"github.com/orchestry/missiond/internal/adapter/natskv"
	"github.com/orchestry/missiond/internal/adapter/natssink"
	"github.com/orchestry/missiond/internal/adapter/otel"
	"github.com/orchestry/missiond/internal/adapter/postgres"
	"github.com/orchestry/missiond/internal/adapter/ristretto"
	"github.com/orchestry/missiond/internal/adapter/sqlite"
	"github.com/orchestry/missiond/internal/adapter/storesink"
	"github.com/orchestry/missiond/internal/adapter/ws"
	"github.com/orchestry/missiond/internal/config"
	"github.com/orchestry/missiond/internal/domain/cost"
	"github.com/orchestry/missiond/internal/logger"
	checkpointport "github.com/orchestry/missiond/internal/port/checkpoint"
	"github.com/orchestry/missiond/internal/port/database"
	"github.com/orchestry/missiond/internal/port/eventsink"
	"github.com/orchestry/missiond/internal/resilience"
	"github.com/orchestry/missiond/internal/service"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "path to YAML config file")
	workflowsPath := flag.String("workflows", "", "path to a YAML file of approval workflow templates to register at startup")
	flag.Parse()

	if err := run(*configPath, *workflowsPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, workflowsPath string) error {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogger := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLogger.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"checkpoints", cfg.Store.CheckpointBackend,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Durable store ---
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// --- Checkpoint store ---
	checkpoints, closeCheckpoints, err := openCheckpoints(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCheckpoints()

	// --- Event fanout: durable audit log, NATS stream, WebSocket hub ---
	hub := ws.NewHub()
	sinks := eventsink.Fanout{storesink.New(store), hub}
	if cfg.NATS.URL != "" {
		if ns, err := natssink.Connect(ctx, cfg.NATS.URL); err != nil {
			slog.Warn("nats event sink unavailable, continuing without it", "error", err)
		} else {
			defer func() { _ = ns.Close() }()
			sinks = append(sinks, ns)
		}
	}

	// --- Observability ---
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Collaborator client behind a circuit breaker ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Timeout)
	client.SetBreaker(breaker)

	// --- Services ---
	cache, err := ristretto.New(cfg.Cache.NumCounters, cfg.Cache.MaxCost)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	registry := service.NewRegistryService(store, cache)
	if workflowsPath != "" {
		n, err := registry.RegisterFromFile(ctx, workflowsPath)
		if err != nil {
			return fmt.Errorf("workflow templates: %w", err)
		}
		slog.Info("workflow templates registered", "count", n)
	}

	approvals := service.NewApprovalService(store, registry, sinks, cfg.Approval, metrics)
	missions := service.NewMissionService(store, checkpoints, client, approvals, sinks,
		cfg.Mission, cost.DefaultPricing(), metrics)
	costs := service.NewCostService(store)

	// --- HTTP ---
	handlers := mdhttp.NewHandlers(missions, approvals, registry, costs, hub, breaker)
	router := mdhttp.NewRouter(handlers, cfg.Server)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		approvals.RunSweeper(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected")
		return postgres.NewStore(pool), nil

	default: // sqlite
		db, err := sqlite.Open(ctx, cfg.SQLite.Path, cfg.SQLite.BusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", cfg.SQLite.Path)
		return sqlite.NewStore(db, cfg.SQLite.WriteQueue), nil
	}
}

func openCheckpoints(ctx context.Context, cfg *config.Config) (checkpointport.Store, func(), error) {
	switch cfg.Store.CheckpointBackend {
	case "natskv":
		store, nc, err := natskv.Connect(ctx, cfg.NATS.URL, cfg.Store.CheckpointBucket)
		if err != nil {
			return nil, nil, fmt.Errorf("nats checkpoint store: %w", err)
		}
		slog.Info("nats checkpoint bucket ready", "bucket", cfg.Store.CheckpointBucket)
		return store, func() { nc.Close() }, nil

	default: // file
		store, err := filestore.New(cfg.Store.CheckpointDir)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint dir: %w", err)
		}
		slog.Info("checkpoint dir ready", "dir", cfg.Store.CheckpointDir)
		return store, func() {}, nil
	}
}
