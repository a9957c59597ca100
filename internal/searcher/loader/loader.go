// Package loader fetches packed indexes from disk or over HTTP, compiles
// them and keeps the current version of every served index. Concurrent
// loads of the same source are collapsed into one.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/index"
	"github.com/edgedb/website-search/internal/manifest"
	"github.com/edgedb/website-search/pkg/config"
	apperrors "github.com/edgedb/website-search/pkg/errors"
	"github.com/edgedb/website-search/pkg/metrics"
	"github.com/edgedb/website-search/pkg/resilience"
	"github.com/edgedb/website-search/pkg/tracing"
)

// maxIndexBytes caps the size of a fetched index file.
const maxIndexBytes = 256 << 20

// Resolver finds the current file of an index. manifest.Store implements it.
type Resolver interface {
	Latest(ctx context.Context, domain string) (manifest.Build, error)
}

// Entry is a loaded index.
type Entry struct {
	ID       string
	Version  string
	Path     string
	LoadedAt time.Time
	Index    *index.Index
}

// Info describes a loaded index for listings.
type Info struct {
	ID       string      `json:"id"`
	Version  string      `json:"version"`
	Path     string      `json:"path"`
	LoadedAt time.Time   `json:"loaded_at"`
	Stats    index.Stats `json:"stats"`
}

type Loader struct {
	order       []string
	sources     map[string]string
	fieldBoosts map[string]float64
	timeout     time.Duration
	retry       resilience.RetryConfig

	mu       sync.RWMutex
	entries  map[string]*Entry
	breakers map[string]*resilience.CircuitBreaker

	group    singleflight.Group
	client   *http.Client
	resolver Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Loader)

// WithResolver resolves indexes configured without a path.
func WithResolver(r Resolver) Option {
	return func(l *Loader) {
		l.resolver = r
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) {
		l.client = c
	}
}

func WithRetry(cfg resilience.RetryConfig) Option {
	return func(l *Loader) {
		l.retry = cfg
	}
}

func New(cfg config.SearchConfig, opts ...Option) *Loader {
	l := &Loader{
		sources:     make(map[string]string, len(cfg.Indexes)),
		fieldBoosts: cfg.FieldBoosts,
		timeout:     cfg.LoadTimeout,
		retry:       resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second},
		entries:     make(map[string]*Entry),
		breakers:    make(map[string]*resilience.CircuitBreaker),
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default().With("component", "index-loader"),
	}
	for _, ic := range cfg.Indexes {
		l.order = append(l.order, ic.ID)
		l.sources[ic.ID] = ic.Path
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IDs returns the configured index ids in configuration order.
func (l *Loader) IDs() []string {
	return append([]string(nil), l.order...)
}

// Serves reports whether id is a configured index.
func (l *Loader) Serves(id string) bool {
	_, ok := l.sources[id]
	return ok
}

// LoadAll loads every configured index concurrently. It fails if any
// index cannot be loaded.
func (l *Loader) LoadAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range l.order {
		g.Go(func() error {
			_, _, err := l.Reload(ctx, id, "")
			return err
		})
	}
	return g.Wait()
}

// Get returns the current entry of id.
func (l *Loader) Get(id string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrIndexNotLoaded, http.StatusNotFound, "index %q is not loaded", id)
	}
	return e, nil
}

// Version returns the version of the loaded id, or "" if it is not loaded.
func (l *Loader) Version(id string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[id]; ok {
		return e.Version
	}
	return ""
}

// List describes every loaded index in configuration order.
func (l *Loader) List() []Info {
	l.mu.RLock()
	defer l.mu.RUnlock()
	infos := make([]Info, 0, len(l.entries))
	for _, id := range l.order {
		e, ok := l.entries[id]
		if !ok {
			continue
		}
		infos = append(infos, Info{
			ID:       e.ID,
			Version:  e.Version,
			Path:     e.Path,
			LoadedAt: e.LoadedAt,
			Stats:    e.Index.Stats(),
		})
	}
	return infos
}

// Ping fails until every configured index is loaded.
func (l *Loader) Ping(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var missing []string
	for _, id := range l.order {
		if _, ok := l.entries[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("indexes not loaded: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Reload loads id again and swaps it in. A statically configured path
// always wins; otherwise hint, then the resolver, name the file. It
// reports whether the served version changed.
func (l *Loader) Reload(ctx context.Context, id, hint string) (*Entry, bool, error) {
	src, ok := l.sources[id]
	if !ok {
		return nil, false, apperrors.Newf(apperrors.ErrIndexNotLoaded, http.StatusNotFound, "index %q is not served", id)
	}
	path, err := l.resolve(ctx, id, src, hint)
	if err != nil {
		l.observe(id, "error", nil)
		return nil, false, err
	}

	v, err, shared := l.group.Do(id+"\x00"+path, func() (any, error) {
		return l.load(ctx, id, path)
	})
	if err != nil {
		l.observe(id, "error", nil)
		l.logger.Error("index load failed", "index", id, "path", path, "error", err)
		return nil, false, err
	}
	entry := v.(*Entry)

	l.mu.Lock()
	prev := l.entries[id]
	changed := prev == nil || prev.Version != entry.Version
	if changed {
		l.entries[id] = entry
	}
	l.mu.Unlock()

	if changed && !shared {
		l.observe(id, "ok", entry.Index)
		stats := entry.Index.Stats()
		l.logger.Info("index loaded",
			"index", id,
			"version", entry.Version,
			"path", path,
			"documents", stats.Documents,
			"terms", stats.Terms,
		)
	}
	return entry, changed, nil
}

func (l *Loader) resolve(ctx context.Context, id, src, hint string) (string, error) {
	switch {
	case src != "":
		return src, nil
	case hint != "":
		return hint, nil
	case l.resolver != nil:
		b, err := l.resolver.Latest(ctx, id)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", id, err)
		}
		return b.Path, nil
	}
	return "", apperrors.Newf(apperrors.ErrIndexNotLoaded, http.StatusNotFound, "index %q has no source", id)
}

func (l *Loader) load(ctx context.Context, id, path string) (*Entry, error) {
	ctx, root := tracing.Start(ctx, "load-index", id)
	defer func() {
		root.End()
		root.Log(ctx, l.logger)
	}()

	var data []byte
	_, span := tracing.Start(ctx, "fetch", "")
	err := resilience.WithTimeout(ctx, l.timeout, "load "+id, func(ctx context.Context) error {
		return resilience.Retry(ctx, "load-index", l.retry, func(ctx context.Context) error {
			d, err := l.fetch(ctx, id, path)
			if err != nil {
				return err
			}
			data = d
			return nil
		})
	})
	span.End()
	if err != nil {
		return nil, err
	}
	span.SetAttr("bytes", len(data))

	_, span = tracing.Start(ctx, "unpack", "")
	env, err := blob.Unpack(data)
	span.End()
	if err != nil {
		return nil, apperrors.Config(apperrors.ErrCorruptIndex, "%s: %v", path, err)
	}

	_, span = tracing.Start(ctx, "compile", "")
	idx, err := index.FromJSON(id, env.Index, l.fieldBoosts, index.WithLogger(l.logger.With("index", id)))
	span.End()
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", id, err)
	}
	root.SetAttr("version", env.ID)
	return &Entry{
		ID:       id,
		Version:  env.ID,
		Path:     path,
		LoadedAt: time.Now().UTC(),
		Index:    idx,
	}, nil
}

func (l *Loader) fetch(ctx context.Context, id, path string) ([]byte, error) {
	if !isURL(path) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, resilience.Permanent(err)
		}
		return data, err
	}
	var data []byte
	err := l.breaker(id).Execute(ctx, func(ctx context.Context) error {
		d, err := l.fetchHTTP(ctx, path)
		data = d
		return err
	})
	return data, err
}

func (l *Loader) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if len(data) > maxIndexBytes {
		return nil, resilience.Permanent(fmt.Errorf("fetching %s: index exceeds %d bytes", url, maxIndexBytes))
	}
	return data, nil
}

// breaker returns the circuit breaker guarding remote fetches of id.
func (l *Loader) breaker(id string) *resilience.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()
	cb, ok := l.breakers[id]
	if !ok {
		cb = resilience.NewCircuitBreaker("index-"+id, resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				if l.metrics != nil {
					l.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		})
		l.breakers[id] = cb
	}
	return cb
}

func (l *Loader) observe(id, status string, idx *index.Index) {
	if l.metrics == nil {
		return
	}
	l.metrics.IndexLoadsTotal.WithLabelValues(id, status).Inc()
	if idx != nil {
		stats := idx.Stats()
		l.metrics.IndexDocuments.WithLabelValues(id).Set(float64(stats.Documents))
		l.metrics.IndexTerms.WithLabelValues(id).Set(float64(stats.Terms))
	}
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
