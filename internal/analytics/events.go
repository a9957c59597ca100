package analytics

import "time"

type EventType string

const (
	EventSearch         EventType = "search"
	EventIndexPublished EventType = "index_published"
)

// SearchEvent describes one answered query.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Indexes   []string  `json:"indexes"`
	Terms     []string  `json:"terms"`
	Results   int       `json:"results"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// IndexEvent announces a freshly written index file. The build pipeline
// publishes it; searchers reload the index it names.
type IndexEvent struct {
	Type           EventType `json:"type"`
	Domain         string    `json:"domain"`
	IndexID        string    `json:"id"`
	Path           string    `json:"path"`
	Documents      int       `json:"documents"`
	Terms          int       `json:"terms"`
	Size           int       `json:"size"`
	CompressedSize int       `json:"compressed_size"`
	BuiltAt        time.Time `json:"built_at"`
}
