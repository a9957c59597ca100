// Package reload swaps in newly published indexes and drops the cached
// results computed against the versions they replace.
package reload

import (
	"context"
	"log/slog"

	"github.com/edgedb/website-search/internal/analytics"
	"github.com/edgedb/website-search/internal/searcher/loader"
	"github.com/edgedb/website-search/pkg/kafka"
)

// Loader is the part of loader.Loader the reloader drives.
type Loader interface {
	Serves(id string) bool
	Version(id string) string
	Reload(ctx context.Context, id, hint string) (*loader.Entry, bool, error)
}

// Invalidator drops cached results of an index. cache.QueryCache
// implements it.
type Invalidator interface {
	InvalidateIndex(ctx context.Context, id string) error
}

type Reloader struct {
	loader Loader
	cache  Invalidator
	logger *slog.Logger
}

// New creates a Reloader. cache may be nil when result caching is off.
func New(l Loader, cache Invalidator) *Reloader {
	return &Reloader{
		loader: l,
		cache:  cache,
		logger: slog.Default().With("component", "reloader"),
	}
}

// Reload loads id again and, when its version changed, invalidates its
// cached results. A failed invalidation is logged: stale keys are
// unreachable anyway because cache keys carry index versions.
func (r *Reloader) Reload(ctx context.Context, id, hint string) (*loader.Entry, bool, error) {
	entry, changed, err := r.loader.Reload(ctx, id, hint)
	if err != nil {
		return nil, false, err
	}
	if changed && r.cache != nil {
		if err := r.cache.InvalidateIndex(ctx, id); err != nil {
			r.logger.Warn("cache invalidation failed", "index", id, "error", err)
		}
	}
	return entry, changed, nil
}

// Handle consumes index published events. Events for indexes this
// service does not serve, or for the version already loaded, are skipped.
func (r *Reloader) Handle() kafka.MessageHandler {
	return kafka.JSONHandler(func(ctx context.Context, ev analytics.IndexEvent) error {
		if ev.Type != "" && ev.Type != analytics.EventIndexPublished {
			return nil
		}
		if !r.loader.Serves(ev.Domain) {
			r.logger.Debug("ignoring index of unserved domain", "domain", ev.Domain)
			return nil
		}
		if ev.IndexID != "" && ev.IndexID == r.loader.Version(ev.Domain) {
			r.logger.Debug("index already current", "domain", ev.Domain, "version", ev.IndexID)
			return nil
		}
		entry, changed, err := r.Reload(ctx, ev.Domain, ev.Path)
		if err != nil {
			return err
		}
		r.logger.Info("index reloaded from event",
			"domain", ev.Domain,
			"version", entry.Version,
			"changed", changed,
		)
		return nil
	})
}
