// Package handler serves the search API: merged multi-index queries,
// term suggestions, index listings and manual reloads.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edgedb/website-search/internal/analytics"
	"github.com/edgedb/website-search/internal/jolr/index"
	"github.com/edgedb/website-search/internal/jolr/tokenizer"
	"github.com/edgedb/website-search/internal/searcher/cache"
	"github.com/edgedb/website-search/internal/searcher/loader"
	"github.com/edgedb/website-search/internal/searcher/multi"
	"github.com/edgedb/website-search/pkg/config"
	apperrors "github.com/edgedb/website-search/pkg/errors"
	"github.com/edgedb/website-search/pkg/logger"
	"github.com/edgedb/website-search/pkg/metrics"
	"github.com/edgedb/website-search/pkg/middleware"
)

// maxQueryLen bounds the query string in bytes.
const maxQueryLen = 512

// Indexes is the part of loader.Loader the handlers read.
type Indexes interface {
	IDs() []string
	Get(id string) (*loader.Entry, error)
	List() []loader.Info
}

// Reloader reloads one index on demand. reload.Reloader implements it.
type Reloader interface {
	Reload(ctx context.Context, id, hint string) (*loader.Entry, bool, error)
}

type Handler struct {
	indexes      Indexes
	reloader     Reloader
	cache        *cache.QueryCache
	tracker      analytics.Tracker
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

type Option func(*Handler)

func WithCache(c *cache.QueryCache) Option {
	return func(h *Handler) {
		h.cache = c
	}
}

// WithTracker reports every answered query.
func WithTracker(t analytics.Tracker) Option {
	return func(h *Handler) {
		h.tracker = t
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func New(indexes Indexes, reloader Reloader, cfg config.SearchConfig, opts ...Option) *Handler {
	h := &Handler{
		indexes:      indexes,
		reloader:     reloader,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Search serves GET /api/v1/search?q=&index=a,b&limit=N. Without an index
// parameter every loaded index is queried.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if len(query) > maxQueryLen {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"query exceeds %d bytes", maxQueryLen))
		return
	}
	limit, err := h.parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	ids := h.parseIndexes(r.URL.Query().Get("index"))

	if strings.TrimSpace(query) == "" {
		h.writeJSON(w, http.StatusOK, &multi.Response{
			Query:   []tokenizer.Token{},
			Results: []index.Result{},
		})
		return
	}

	entries := make([]*loader.Entry, 0, len(ids))
	for _, id := range ids {
		e, err := h.indexes.Get(id)
		if err != nil {
			h.countQuery("error")
			h.writeError(w, err)
			return
		}
		entries = append(entries, e)
	}
	scope := cache.Scope{IDs: ids, Versions: make([]string, len(entries))}
	idxs := make([]*index.Index, len(entries))
	for i, e := range entries {
		scope.Versions[i] = e.Version
		idxs[i] = e.Index
	}

	compute := func() (*multi.Response, error) {
		return multi.Search(idxs, query).Truncate(limit), nil
	}
	var resp *multi.Response
	cacheHit := false
	cacheStatus := "disabled"
	if h.cache != nil {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, scope, query, limit, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		resp, err = compute()
	}
	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.countQuery("error")
		h.writeError(w, err)
		return
	}

	latency := time.Since(start)
	log.Info("search completed",
		"query", query,
		"indexes", ids,
		"total_hits", resp.Total,
		"returned", len(resp.Results),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	if h.metrics != nil {
		resultType := "hit"
		if resp.Total == 0 {
			resultType = "zero_result"
		}
		h.countQuery(resultType)
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(resp.Results)))
	}
	if h.tracker != nil {
		terms := make([]string, len(resp.Query))
		for i, tok := range resp.Query {
			terms[i] = tok.Stemmed
		}
		h.tracker.Track(analytics.SearchEvent{
			Type:      analytics.EventSearch,
			Query:     query,
			Indexes:   ids,
			Terms:     terms,
			Results:   resp.Total,
			Returned:  len(resp.Results),
			LatencyMs: latency.Milliseconds(),
			CacheHit:  cacheHit,
			Timestamp: time.Now().UTC(),
			RequestID: middleware.GetRequestID(ctx),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Suggest serves GET /api/v1/suggest?index=&q=, completing q to the best
// weighted term of one index.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	prefix := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if prefix == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"query parameter 'q' is required"))
		return
	}
	id := r.URL.Query().Get("index")
	if id == "" {
		ids := h.indexes.IDs()
		if len(ids) != 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"query parameter 'index' is required"))
			return
		}
		id = ids[0]
	}
	e, err := h.indexes.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	term, found := e.Index.Suggest(prefix)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"index":      id,
		"prefix":     prefix,
		"suggestion": term,
		"found":      found,
	})
}

// Indexes serves GET /api/v1/indexes.
func (h *Handler) Indexes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"indexes": h.indexes.List()})
}

// Reload serves POST /api/v1/indexes/{id}/reload. The index is reloaded
// from its configured or recorded source only.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, changed, err := h.reloader.Reload(r.Context(), id, "")
	if err != nil {
		logger.FromContext(r.Context()).Error("manual reload failed", "index", id, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":        e.ID,
		"version":   e.Version,
		"path":      e.Path,
		"changed":   changed,
		"loaded_at": e.LoadedAt,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// FlushCache serves DELETE /api/v1/cache.
func (h *Handler) FlushCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	deleted, err := h.cache.Flush(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache flush failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) parseLimit(v string) (int, error) {
	if v == "" {
		return h.defaultLimit, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 1 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(parsed, h.maxResults), nil
}

// parseIndexes splits a comma separated index list, dropping blanks and
// repeats. An empty list selects every configured index.
func (h *Handler) parseIndexes(v string) []string {
	if strings.TrimSpace(v) == "" {
		return h.indexes.IDs()
	}
	seen := make(map[string]bool)
	var ids []string
	for _, id := range strings.Split(v, ",") {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError reports client errors verbatim and hides server errors.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
