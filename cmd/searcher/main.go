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
	"github.com/edgedb/website-search/internal/manifest"
	"github.com/edgedb/website-search/internal/searcher/cache"
	"github.com/edgedb/website-search/internal/searcher/handler"
	"github.com/edgedb/website-search/internal/searcher/loader"
	"github.com/edgedb/website-search/internal/searcher/reload"
	"github.com/edgedb/website-search/pkg/config"
	"github.com/edgedb/website-search/pkg/health"
	"github.com/edgedb/website-search/pkg/kafka"
	"github.com/edgedb/website-search/pkg/logger"
	"github.com/edgedb/website-search/pkg/metrics"
	"github.com/edgedb/website-search/pkg/middleware"
	"github.com/edgedb/website-search/pkg/postgres"
	pkgredis "github.com/edgedb/website-search/pkg/redis"
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
	slog.Info("starting search service", "port", cfg.Server.Port, "indexes", len(cfg.Search.Indexes))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checker := health.NewChecker()
	loaderOpts := []loader.Option{loader.WithMetrics(m)}

	if cfg.Manifest.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		loaderOpts = append(loaderOpts, loader.WithResolver(manifest.NewStore(db)))
		checker.Register("postgres", health.Probe(db.Ping, false))
		slog.Info("resolving index paths from the build manifest")
	}

	indexes := loader.New(cfg.Search, loaderOpts...)
	if err := indexes.LoadAll(ctx); err != nil {
		slog.Error("failed to load indexes", "error", err)
		os.Exit(1)
	}
	checker.Register("indexes", health.Probe(indexes.Ping, true))

	var queryCache *cache.QueryCache
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
			checker.Register("redis", health.Probe(func(context.Context) error { return err }, false))
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.Probe(redisClient.Ping, false))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	} else {
		checker.Register("redis", health.Disabled)
	}

	var reloader *reload.Reloader
	if queryCache != nil {
		reloader = reload.New(indexes, queryCache)
	} else {
		reloader = reload.New(indexes, nil)
	}

	aggregator := analytics.NewAggregator()
	trackers := analytics.Tee{aggregator}

	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, kafka.WithProducerMetrics(m))
		defer producer.Close()
		collector := analytics.NewCollector(producer,
			cfg.Analytics.BufferSize, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		collector.Start(ctx)
		defer collector.Wait()
		trackers = append(trackers, collector)
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

		// Every instance reloads on every publish, so each needs a group of
		// its own.
		hostname, _ := os.Hostname()
		reloadConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished, reloader.Handle(),
			kafka.WithGroupID(fmt.Sprintf("%s-reload-%s", cfg.Kafka.ConsumerGroup, hostname)))
		defer reloadConsumer.Close()
		go func() {
			if err := reloadConsumer.Start(ctx); err != nil {
				slog.Error("reload consumer error", "error", err)
			}
		}()
		slog.Info("hot reload enabled", "topic", cfg.Kafka.Topics.IndexPublished)
	} else {
		checker.Register("kafka", health.Disabled)
	}

	h := handler.New(indexes, reloader, cfg.Search,
		handler.WithCache(queryCache),
		handler.WithTracker(trackers),
		handler.WithMetrics(m),
	)
	analyticsH := analytics.NewHandler(aggregator, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/suggest", h.Suggest)
	mux.HandleFunc("GET /api/v1/indexes", h.Indexes)
	admin := middleware.AdminAuth(cfg.Server.AdminToken)
	mux.Handle("POST /api/v1/indexes/{id}/reload", admin(http.HandlerFunc(h.Reload)))
	mux.Handle("DELETE /api/v1/cache", admin(http.HandlerFunc(h.FlushCache)))
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
	go limiter.Run(ctx)

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.CORSOrigins

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	if cfg.Server.RateLimit > 0 {
		chain = middleware.RateLimit(limiter)(chain)
	}
	chain = middleware.CORS(cors)(chain)
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
