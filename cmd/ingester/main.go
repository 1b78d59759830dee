package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feedmeta/harvester/internal/db"
	"github.com/feedmeta/harvester/internal/feed"
	"github.com/feedmeta/harvester/internal/ingest"
	"github.com/feedmeta/harvester/internal/media"
	"github.com/feedmeta/harvester/internal/models"
	"github.com/feedmeta/harvester/pkg/config"
	"github.com/feedmeta/harvester/pkg/logging"
	"github.com/feedmeta/harvester/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting harvester ingester")

	if err := run(cfg, logger); err != nil {
		logger.Error("Ingester failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Ingester exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer telemetryShutdown()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	store := db.NewRepository(database.DB)

	client, err := feed.New(&cfg.Feed, metrics)
	if err != nil {
		return err
	}
	prober := media.NewProber(&cfg.Probe)

	users := ingest.NewUserQueue(cfg.Ingest.UserQueueCapacity)
	if err := metrics.ObserveGauge("queue.users", users.Len); err != nil {
		return err
	}

	scores, err := logging.NewSideLog(cfg.Ingest.ScoreLogPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := scores.Close(); err != nil {
			logger.Error("Failed to flush score log", zap.Error(err))
		}
	}()

	jobs := map[string]ingest.Job{
		config.JobSizes:    ingest.NewSizeJob(store, client, prober, metrics),
		config.JobTags:     ingest.NewTagJob(store, client, users, metrics),
		config.JobPreviews: ingest.NewPreviewJob(store, client, prober, metrics),
	}
	source := func() ingest.Sequence[models.Item] { return feed.NewWalker(client) }

	schedulers, err := ingest.BuildSchedulers(cfg.Ingest.Schedules, jobs, source, store, metrics)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	userJob := ingest.NewUserJob(store, client, users, scores, metrics)
	runners := []*ingest.Runner{ingest.NewRunner("users", cfg.Ingest.UserInterval, userJob.Run, metrics)}

	intervals := make(map[string]time.Duration, len(cfg.Ingest.Schedules))
	for _, sc := range cfg.Ingest.Schedules {
		intervals[sc.Name] = sc.Interval
	}
	for _, scheduler := range schedulers {
		runners = append(runners, ingest.NewRunner(scheduler.Name(), intervals[scheduler.Name()], scheduler.Run, metrics))
	}
	for _, runner := range runners {
		runner := runner
		group.Go(func() error { return runner.Run(ctx) })
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.PrometheusEnabled {
		srv := metricsServer(cfg, database)
		group.Go(func() error {
			serveMetrics(ctx, srv, logger)
			return nil
		})
	}

	logger.Info("Ingester running", zap.Int("schedules", len(schedulers)))

	err = group.Wait()
	logger.Info("Shutting down ingester...")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics serves srv until ctx is done. A server that fails is only
// logged; ingestion goes on without it.
func serveMetrics(ctx context.Context, srv *http.Server, logger *zap.Logger) {
	logger.Info("Metrics server starting", zap.String("address", srv.Addr))

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.String("address", srv.Addr), zap.Error(err))
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server forced to shutdown", zap.Error(err))
		}
	}
}

func metricsServer(cfg *config.Config, database *db.DB) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "ERROR", "service": "harvester-ingester"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "harvester-ingester"})
	})

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Telemetry.PrometheusPort),
		Handler: router,
	}
}
