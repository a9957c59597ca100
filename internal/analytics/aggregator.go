package analytics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgedb/website-search/pkg/kafka"
)

// maxLatencySamples bounds the window used for latency percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64                 `json:"total_searches"`
	CacheHits         int64                 `json:"cache_hits"`
	CacheMisses       int64                 `json:"cache_misses"`
	CacheHitRate      float64               `json:"cache_hit_rate"`
	ZeroResultCount   int64                 `json:"zero_result_count"`
	AvgLatencyMs      float64               `json:"avg_latency_ms"`
	P50LatencyMs      int64                 `json:"p50_latency_ms"`
	P95LatencyMs      int64                 `json:"p95_latency_ms"`
	P99LatencyMs      int64                 `json:"p99_latency_ms"`
	TopQueries        []QueryCount          `json:"top_queries"`
	ZeroResultQueries []QueryCount          `json:"zero_result_queries"`
	SearchesByIndex   map[string]int64      `json:"searches_by_index"`
	IndexBuilds       int64                 `json:"index_builds"`
	LatestBuilds      map[string]IndexEvent `json:"latest_builds"`
	QueriesPerMinute  float64               `json:"queries_per_minute"`
	Since             time.Time             `json:"since"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds search and index events into running statistics. It is
// safe for concurrent use and implements Tracker.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	zeroResults       atomic.Int64
	indexBuilds       atomic.Int64
	latencies         []int64
	latencyNext       int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	byIndex           map[string]int64
	latestBuilds      map[string]IndexEvent
	startTime         time.Time
	now               func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		byIndex:           make(map[string]int64),
		latestBuilds:      make(map[string]IndexEvent),
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleSearchEvent adapts the aggregator to the analytics topic.
func HandleSearchEvent(agg *Aggregator) kafka.MessageHandler {
	return kafka.JSONHandler(func(ctx context.Context, event SearchEvent) error {
		if event.Type != "" && event.Type != EventSearch {
			agg.logger.Debug("skipping analytics event", "type", event.Type)
			return nil
		}
		agg.Track(event)
		return nil
	})
}

// HandleIndexEvent adapts the aggregator to the index published topic.
func HandleIndexEvent(agg *Aggregator) kafka.MessageHandler {
	return kafka.JSONHandler(func(ctx context.Context, event IndexEvent) error {
		agg.RecordIndex(event)
		return nil
	})
}

// Track records one search.
func (a *Aggregator) Track(event SearchEvent) {
	a.totalSearches.Add(1)
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if event.Results == 0 {
		a.zeroResults.Add(1)
	}

	query := normalizeQuery(event.Query)

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.latencyNext] = event.LatencyMs
		a.latencyNext = (a.latencyNext + 1) % maxLatencySamples
	}
	for _, id := range event.Indexes {
		a.byIndex[id]++
	}
	if query == "" {
		return
	}
	a.queryCounts[query]++
	if event.Results == 0 {
		a.zeroResultQueries[query]++
	}
}

// RecordIndex records a published index build.
func (a *Aggregator) RecordIndex(event IndexEvent) {
	a.indexBuilds.Add(1)
	a.mu.Lock()
	a.latestBuilds[event.Domain] = event
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		ZeroResultCount: a.zeroResults.Load(),
		IndexBuilds:     a.indexBuilds.Load(),
		SearchesByIndex: make(map[string]int64, len(a.byIndex)),
		LatestBuilds:    make(map[string]IndexEvent, len(a.latestBuilds)),
		Since:           a.startTime.UTC(),
	}
	if stats.TotalSearches > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalSearches)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	for id, n := range a.byIndex {
		stats.SearchesByIndex[id] = n
	}
	for domain, ev := range a.latestBuilds {
		stats.LatestBuilds[domain] = ev
	}
	elapsed := a.now().Sub(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}

	return stats
}

// normalizeQuery folds queries that differ only in case or surrounding
// whitespace, which is common for search-as-you-type input.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
