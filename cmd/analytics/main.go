// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search events and index published events from Kafka,
// aggregates them in memory (query volume, latency percentiles, cache hit
// rate, zero-result queries, latest builds), optionally snapshots the
// aggregate to PostgreSQL, and serves the stats over HTTP.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgedb/website-search/internal/analytics"
	"github.com/edgedb/website-search/pkg/config"
	"github.com/edgedb/website-search/pkg/health"
	"github.com/edgedb/website-search/pkg/kafka"
	"github.com/edgedb/website-search/pkg/logger"
	"github.com/edgedb/website-search/pkg/metrics"
	"github.com/edgedb/website-search/pkg/middleware"
	"github.com/edgedb/website-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	if !cfg.Kafka.Enabled() {
		slog.Error("analytics service needs kafka brokers")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checker := health.NewChecker()
	aggregator := analytics.NewAggregator()
	group := kafka.WithGroupID(cfg.Kafka.ConsumerGroup + "-analytics")

	searchConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents,
		analytics.HandleSearchEvent(aggregator), group)
	defer searchConsumer.Close()
	indexConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished,
		analytics.HandleIndexEvent(aggregator), group, kafka.FromFirstOffset())
	defer indexConsumer.Close()

	for _, c := range []*kafka.Consumer{searchConsumer, indexConsumer} {
		go func() {
			if err := c.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()
	}
	slog.Info("analytics aggregator started",
		"search_topic", cfg.Kafka.Topics.AnalyticsEvents,
		"index_topic", cfg.Kafka.Topics.IndexPublished,
	)
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumers active"}
	})

	var history analytics.SnapshotLister
	if cfg.Analytics.SnapshotInterval > 0 {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx, analytics.Migrations); err != nil {
			slog.Error("analytics migration failed", "error", err)
			os.Exit(1)
		}
		store := analytics.NewStore(db)
		store.StartPeriodicSave(ctx, aggregator, cfg.Analytics.SnapshotInterval)
		history = store
		checker.Register("postgres", health.Probe(db.Ping, false))
	} else {
		checker.Register("postgres", health.Disabled)
	}

	analyticsHandler := analytics.NewHandler(aggregator, history)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", analyticsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
