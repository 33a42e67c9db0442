package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/segmentkeeper/internal/core/api"
	"github.com/solatis/segmentkeeper/internal/core/config"
	"github.com/solatis/segmentkeeper/internal/core/db"
	"github.com/solatis/segmentkeeper/internal/core/metrics"
	"github.com/solatis/segmentkeeper/internal/core/server"
	"github.com/solatis/segmentkeeper/internal/estimate"
	"github.com/solatis/segmentkeeper/internal/segments"
)

const readinessInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the segment HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	serveCmd.Flags().Int("health-port", 8081, "gRPC health port (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.SegmentAPI.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.SegmentAPI.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("health-port") {
		cfg.SegmentAPI.HealthPort, _ = cmd.Flags().GetInt("health-port")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("segmentkeeper", registry)

	store, err := openContacts(cfg, database, logger)
	if err != nil {
		return err
	}
	engine := newEngine(cfg, store, logger, collector)
	repo := segments.Instrument(segments.NewSQLRepository(queries), collector, logger.Named("repository"))

	refresher := estimate.NewRefresher(repo, engine, cfg.Reestimate.Concurrency, logger.Named("reestimate"), collector)
	scheduler := estimate.NewScheduler(refresher, cfg.Reestimate.Schedule, logger.Named("reestimate"))
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start re-estimation: %w", err)
	}
	defer scheduler.Stop()

	ready := func(ctx context.Context) error { return db.Ready(ctx, database) }
	service, err := api.NewSegmentService(&cfg.SegmentAPI, api.Deps{
		Repo:      repo,
		Evaluator: engine,
		Ready:     ready,
		Metrics:   collector.Handler(),
		Logger:    logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	httpServer, err := server.NewHTTPServer(&cfg.SegmentAPI, service.Handler(), logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errChan := make(chan error, 2)
	var healthServer *server.HealthServer
	if cfg.SegmentAPI.HealthPort != 0 {
		healthServer, err = server.NewHealthServer(&cfg.SegmentAPI, logger.Named("health"))
		if err != nil {
			return fmt.Errorf("failed to create health server: %w", err)
		}
		go healthServer.Watch(ctx, readinessInterval, ready)
		go func() { errChan <- healthServer.Start(ctx) }()
	}

	logger.Info("starting segmentkeeper",
		zap.String("version", Version),
		zap.String("host", cfg.SegmentAPI.Host),
		zap.Int("port", cfg.SegmentAPI.Port),
		zap.String("contacts_backend", cfg.Contacts.Backend),
		zap.String("reestimate_schedule", cfg.Reestimate.Schedule))
	go func() { errChan <- httpServer.Start(ctx) }()

	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	}

	shutdownCtx := context.Background()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if healthServer != nil {
		if err := healthServer.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
