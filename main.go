package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relaydata/relay-engine/pkg/adapters/source"
	_ "github.com/relaydata/relay-engine/pkg/adapters/source/mongodb"
	_ "github.com/relaydata/relay-engine/pkg/adapters/source/mssql"
	_ "github.com/relaydata/relay-engine/pkg/adapters/source/mysql"
	_ "github.com/relaydata/relay-engine/pkg/adapters/source/oracle"
	_ "github.com/relaydata/relay-engine/pkg/adapters/source/postgres"
	_ "github.com/relaydata/relay-engine/pkg/adapters/source/sqlite"
	"github.com/relaydata/relay-engine/pkg/analytics"
	"github.com/relaydata/relay-engine/pkg/config"
	"github.com/relaydata/relay-engine/pkg/crypto"
	"github.com/relaydata/relay-engine/pkg/database"
	"github.com/relaydata/relay-engine/pkg/handlers"
	"github.com/relaydata/relay-engine/pkg/logging"
	"github.com/relaydata/relay-engine/pkg/metrics"
	"github.com/relaydata/relay-engine/pkg/middleware"
	"github.com/relaydata/relay-engine/pkg/repositories"
	"github.com/relaydata/relay-engine/pkg/services"
	"github.com/relaydata/relay-engine/pkg/services/syncqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is harmless

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vault, err := crypto.NewVault(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("credentials key rejected", zap.Error(err))
	}

	// Migrations run over database/sql; the runtime pool is pgx native.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	migrationDB.Close() //nolint:errcheck

	db, err := database.Connect(ctx, &database.Config{
		URL:          cfg.Database.ConnectionString(),
		MaxConns:     cfg.Database.MaxConnections,
		ConnLifetime: cfg.Database.ConnLifetime(),
		ConnIdleTime: cfg.Database.ConnIdle(),
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	connectionRepo := repositories.NewConnectionRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	scheduleRepo := repositories.NewScheduleRepository(db)
	tableStateRepo := repositories.NewTableStateRepository(db)

	factory := source.NewFactory(source.Options{
		FetchBatchSize: cfg.Sync.FetchBatchSize,
		ConnectTimeout: cfg.Sync.ConnectionTimeout(),
	})
	loader := analytics.NewLoader(db, logger)
	reconciler := services.NewReconciler(tableStateRepo, logger)
	executor := services.NewExecutor(connectionRepo, jobRepo, vault, factory, loader, reconciler, m, cfg.Sync, logger)

	queue := syncqueue.New(logger,
		syncqueue.WithStrategy(syncqueue.NewConnectionExclusiveStrategy(cfg.Sync.Workers)))
	defer queue.Shutdown()

	connectionService := services.NewConnectionService(connectionRepo, scheduleRepo, vault, factory, logger)
	scheduleService := services.NewScheduleService(scheduleRepo, logger)
	jobService := services.NewJobService(jobRepo, connectionRepo, queue, executor, cfg.Sync, logger)

	// Jobs stranded by a previous crash are failed before the scheduler
	// can trip over their connections.
	if err := jobService.SweepOrphans(ctx); err != nil {
		logger.Error("orphan sweep failed", zap.Error(err))
	}

	scheduler := services.NewScheduler(scheduleRepo, jobService, m, cfg.Sync.Tick(), logger)
	go scheduler.Run(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewConnectionHandler(connectionService, reconciler, logger).RegisterRoutes(mux)
	handlers.NewJobHandler(jobService, logger).RegisterRoutes(mux)
	handlers.NewScheduleHandler(scheduleService, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting relay-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
