package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edgedb/website-search/internal/manifest"
	"github.com/edgedb/website-search/internal/pipeline"
	"github.com/edgedb/website-search/pkg/config"
	"github.com/edgedb/website-search/pkg/kafka"
	"github.com/edgedb/website-search/pkg/logger"
	"github.com/edgedb/website-search/pkg/metrics"
	"github.com/edgedb/website-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	domains := flag.String("domain", "", "comma separated domains to build (default: all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting index build", "output_dir", cfg.Build.OutputDir, "concurrency", cfg.Build.Concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	opts := []pipeline.Option{pipeline.WithMetrics(m)}

	if cfg.Manifest.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := manifest.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			slog.Error("manifest migration failed", "error", err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithRecorder(store))
		slog.Info("build manifest enabled", "database", cfg.Postgres.Database)
	}

	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished, kafka.WithProducerMetrics(m))
		defer producer.Close()
		opts = append(opts, pipeline.WithPublisher(producer))
		slog.Info("publishing index events", "topic", cfg.Kafka.Topics.IndexPublished)
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	var names []string
	for _, name := range strings.Split(*domains, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	start := time.Now()
	builds, err := pipeline.New(cfg.Build, opts...).Run(ctx, names...)
	if err != nil {
		slog.Error("index build failed", "error", err)
		os.Exit(1)
	}
	for _, b := range builds {
		slog.Info("index written", "domain", b.Domain, "path", b.Path, "id", b.IndexID)
	}
	slog.Info("index build finished", "domains", len(builds), "duration", time.Since(start).Round(time.Millisecond))
}
