// Package pipeline turns content records into published index files. For
// every configured domain it builds the index, writes the packed file
// atomically, records the build in the manifest and announces it to the
// searchers.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgedb/website-search/internal/analytics"
	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/manifest"
	"github.com/edgedb/website-search/internal/sitebuild"
	"github.com/edgedb/website-search/pkg/config"
	apperrors "github.com/edgedb/website-search/pkg/errors"
	"github.com/edgedb/website-search/pkg/kafka"
	"github.com/edgedb/website-search/pkg/metrics"
	"github.com/edgedb/website-search/pkg/resilience"
	"github.com/edgedb/website-search/pkg/tracing"
)

// Recorder stores published builds. manifest.Store implements it.
type Recorder interface {
	Record(ctx context.Context, b manifest.Build) error
}

type Pipeline struct {
	cfg       config.BuildConfig
	publisher kafka.Publisher
	recorder  Recorder
	metrics   *metrics.Metrics
	retry     resilience.RetryConfig
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Pipeline)

// WithPublisher announces every build as an analytics.IndexEvent.
func WithPublisher(p kafka.Publisher) Option {
	return func(pl *Pipeline) {
		pl.publisher = p
	}
}

// WithRecorder records every build in the manifest.
func WithRecorder(r Recorder) Option {
	return func(pl *Pipeline) {
		pl.recorder = r
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(pl *Pipeline) {
		pl.metrics = m
	}
}

// WithRetry overrides the backoff used for the manifest and the publisher.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(pl *Pipeline) {
		pl.retry = cfg
	}
}

func New(cfg config.BuildConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		retry:  resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		now:    time.Now,
		logger: slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IndexPath is where the index of domain is written.
func IndexPath(outputDir, domain string) string {
	return filepath.Join(outputDir, domain, domain+"search"+blob.Extension)
}

// Run builds the named domains, or every configured domain when names is
// empty, at most cfg.Concurrency at a time. It stops starting new builds
// after the first failure and returns the builds in request order.
func (p *Pipeline) Run(ctx context.Context, names ...string) ([]manifest.Build, error) {
	domains, err := p.selectDomains(names)
	if err != nil {
		return nil, err
	}

	builds := make([]manifest.Build, len(domains))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.Concurrency, 1))
	for i, domain := range domains {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := p.BuildDomain(ctx, domain)
			if err != nil {
				return err
			}
			builds[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return builds, nil
}

func (p *Pipeline) selectDomains(names []string) ([]config.DomainConfig, error) {
	if len(names) == 0 {
		if len(p.cfg.Domains) == 0 {
			return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "no build domains configured")
		}
		return p.cfg.Domains, nil
	}
	domains := make([]config.DomainConfig, 0, len(names))
	var unknown []string
	for _, name := range names {
		d, ok := p.cfg.Domain(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		domains = append(domains, d)
	}
	if len(unknown) > 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"unknown build domains: %s", strings.Join(unknown, ", "))
	}
	return domains, nil
}

// BuildDomain builds, writes, records and announces the index of one
// domain.
func (p *Pipeline) BuildDomain(ctx context.Context, domain config.DomainConfig) (manifest.Build, error) {
	start := time.Now()
	logger := p.logger.With("domain", domain.Name)

	ctx, span := tracing.Start(ctx, "build-domain", domain.Name)
	build, err := p.build(ctx, domain, logger)
	span.End()
	span.Log(ctx, logger)
	p.observe(domain.Name, build, time.Since(start), err)
	if err != nil {
		logger.Error("index build failed", "error", err)
		return manifest.Build{}, fmt.Errorf("building %s: %w", domain.Name, err)
	}
	logger.Info("search index created",
		"index_id", build.IndexID,
		"documents", build.Documents,
		"size", build.Size,
		"compressed_size", build.CompressedSize,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return build, nil
}

func (p *Pipeline) build(ctx context.Context, domain config.DomainConfig, logger *slog.Logger) (manifest.Build, error) {
	_, span := tracing.Start(ctx, "load-records", "")
	records, err := sitebuild.LoadRecords(domain.Records)
	span.SetAttr("records", len(records))
	span.End()
	if err != nil {
		return manifest.Build{}, err
	}
	logger.Debug("records loaded", "count", len(records))

	_, span = tracing.Start(ctx, "build-index", "")
	out, stats, err := sitebuild.BuildIndex(records, sitebuild.NewBoosts(domain.Boosts))
	span.SetAttr("terms", stats.Terms)
	span.End()
	if err != nil {
		return manifest.Build{}, err
	}

	_, span = tracing.Start(ctx, "pack", "")
	packed, err := blob.Pack(out)
	span.End()
	if err != nil {
		return manifest.Build{}, err
	}
	span.SetAttr("compressed_size", len(packed.Compressed))

	path := IndexPath(p.cfg.OutputDir, domain.Name)
	_, span = tracing.Start(ctx, "write", "")
	err = blob.WriteFile(path, packed.Compressed)
	span.End()
	if err != nil {
		return manifest.Build{}, err
	}

	build := manifest.Build{
		Domain:         domain.Name,
		IndexID:        packed.ID,
		Path:           path,
		Documents:      stats.Documents,
		Terms:          stats.Terms,
		Size:           packed.Size,
		CompressedSize: len(packed.Compressed),
		BuiltAt:        p.now().UTC(),
	}

	if p.recorder != nil {
		_, span = tracing.Start(ctx, "manifest-record", "")
		err := resilience.Retry(ctx, "manifest-record", p.retry, func(ctx context.Context) error {
			return p.recorder.Record(ctx, build)
		})
		span.End()
		if err != nil {
			return build, fmt.Errorf("recording build: %w", err)
		}
	}
	if p.publisher != nil {
		event := kafka.Event{Key: domain.Name, Value: analytics.IndexEvent{
			Type:           analytics.EventIndexPublished,
			Domain:         build.Domain,
			IndexID:        build.IndexID,
			Path:           build.Path,
			Documents:      build.Documents,
			Terms:          build.Terms,
			Size:           build.Size,
			CompressedSize: build.CompressedSize,
			BuiltAt:        build.BuiltAt,
		}}
		_, span = tracing.Start(ctx, "publish", "")
		err := resilience.Retry(ctx, "index-published", p.retry, func(ctx context.Context) error {
			return p.publisher.Publish(ctx, event)
		})
		span.End()
		if err != nil {
			return build, fmt.Errorf("announcing build: %w", err)
		}
	}
	return build, nil
}

func (p *Pipeline) observe(domain string, b manifest.Build, d time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.BuildsTotal.WithLabelValues(domain, status).Inc()
	p.metrics.BuildDuration.WithLabelValues(domain).Observe(d.Seconds())
	if err == nil {
		p.metrics.BuildDocuments.WithLabelValues(domain).Set(float64(b.Documents))
		p.metrics.BuildCompressedBytes.WithLabelValues(domain).Set(float64(b.CompressedSize))
	}
}
