package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"intel_fetcher/internal/config"
	"intel_fetcher/internal/ingest"
	"intel_fetcher/internal/logqueue"
	"intel_fetcher/internal/scheduler"
	"intel_fetcher/internal/server"
	"intel_fetcher/internal/source/misp"
	"intel_fetcher/internal/source/nvd"
	"intel_fetcher/internal/source/rss"
	mongodb "intel_fetcher/internal/storage/mongo"
	"intel_fetcher/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event queue is optional: without a broker URL events are discarded.
	var events ingest.EventSink
	var queue *logqueue.Queue
	if cfg.RabbitMQ.URL != "" {
		transport, err := logqueue.NewAMQPTransport(logqueue.AMQPConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer transport.Close()

		queue = logqueue.New(transport, cfg.LogQueue, logger)
		go queue.Start(ctx)
		events = queue
	}

	// Document mirror is optional as well.
	var mirror ingest.MirrorStore
	if cfg.Mongo.URI != "" {
		m, err := mongodb.NewMirror(ctx, cfg.Mongo, logger)
		if err != nil {
			logger.Error("failed to connect to mongodb", "error", err)
			os.Exit(1)
		}
		defer m.Close(context.Background())
		mirror = m
		logger.Info("connected to document mirror")
	}

	checkpointStore := postgres.NewCheckpointStore(db)
	recordStore := postgres.NewRecordStore(db)

	var runners []*ingest.Runner

	if cfg.Sources.NVD.Enabled {
		src := nvd.New(nvd.Config{
			BaseURL:  cfg.Sources.NVD.BaseURL,
			APIKey:   cfg.Sources.NVD.APIKey,
			PageSize: cfg.Sources.NVD.PageSize,
			Timeout:  cfg.Sources.NVD.Timeout,
			Lookback: time.Duration(cfg.Sources.NVD.LookbackDays) * 24 * time.Hour,
			Locale:   cfg.Sources.NVD.Locale,
		}, logger)
		runners = append(runners, ingest.NewRunner(src, checkpointStore, recordStore, mirror, events, logger, cfg.Sync))
	}

	if cfg.Sources.MISP.Enabled {
		src := misp.New(misp.Config{
			BaseURL:  cfg.Sources.MISP.BaseURL,
			APIKey:   cfg.Sources.MISP.APIKey,
			PageSize: cfg.Sources.MISP.PageSize,
			Timeout:  cfg.Sources.MISP.Timeout,
			Lookback: time.Duration(cfg.Sources.MISP.LookbackDays) * 24 * time.Hour,
		}, logger)
		runners = append(runners, ingest.NewRunner(src, checkpointStore, recordStore, mirror, events, logger, cfg.Sync))
	}

	if cfg.Sources.RSS.Enabled {
		src := rss.New(rss.Config{
			Feeds:    cfg.Sources.RSS.Feeds,
			Timeout:  cfg.Sources.RSS.Timeout,
			Lookback: time.Duration(cfg.Sources.RSS.LookbackDays) * 24 * time.Hour,
		}, logger)
		runners = append(runners, ingest.NewRunner(src, checkpointStore, recordStore, mirror, events, logger, cfg.Sync))
	}

	if len(runners) == 0 {
		logger.Error("no sources enabled")
		os.Exit(1)
	}

	schedRunners := make([]scheduler.Runner, len(runners))
	serverRunners := make([]server.CycleRunner, len(runners))
	for i, r := range runners {
		schedRunners[i] = r
		serverRunners[i] = r
	}

	srv := server.New(serverRunners, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	sched := scheduler.NewScheduler(
		schedRunners,
		cfg.Sync.Interval,
		cfg.Sync.MaxCycleDuration+30*time.Second,
		logger,
	)

	logger.Info("starting intel syncer",
		"sources", len(runners),
		"interval", cfg.Sync.Interval,
		"max_pages", cfg.Sync.MaxPagesPerCycle,
	)

	err = sched.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if queue != nil {
		<-queue.Done()
	}

	if err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
