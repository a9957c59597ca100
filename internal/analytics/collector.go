package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgedb/website-search/pkg/kafka"
)

// Tracker receives search events. The Collector ships them to Kafka; the
// Aggregator records them in process.
type Tracker interface {
	Track(event SearchEvent)
}

// Collector buffers search events and publishes them in batches, flushing
// when a batch fills up or the flush interval elapses.
type Collector struct {
	publisher     kafka.Publisher
	eventCh       chan SearchEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

func NewCollector(publisher kafka.Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		eventCh:       make(chan SearchEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the publish loop. On ctx cancellation the buffered events
// are flushed with a short deadline.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				return
			}
			if err := c.publisher.PublishBatch(ctx, batch); err != nil {
				c.logger.Error("failed to publish analytics events", "count", len(batch), "error", err)
			}
			batch = batch[:0]
		}

		for {
			select {
			case event := <-c.eventCh:
				batch = append(batch, toKafka(event))
				if len(batch) >= c.batchSize {
					flush(ctx)
				}
			case <-ticker.C:
				flush(ctx)
			case <-ctx.Done():
				drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			drain:
				for {
					select {
					case event := <-c.eventCh:
						batch = append(batch, toKafka(event))
					default:
						break drain
					}
				}
				flush(drainCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track enqueues event without blocking. Events are dropped when the
// buffer is full.
func (c *Collector) Track(event SearchEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)")
	}
}

// Wait blocks until the publish loop has exited.
func (c *Collector) Wait() {
	<-c.done
}

func toKafka(event SearchEvent) kafka.Event {
	if event.Type == "" {
		event.Type = EventSearch
	}
	return kafka.Event{Key: event.Query, Value: event}
}

// Tee fans an event out to several trackers.
type Tee []Tracker

func (t Tee) Track(event SearchEvent) {
	for _, tr := range t {
		tr.Track(event)
	}
}
