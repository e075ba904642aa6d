package metrics

import (
	"context"
	"time"

	"github.com/tomehq/tome/pkg/types"
)

// StatsSource supplies the aggregate counts the collector samples. The store
// package implements it; the indirection keeps metrics free of a store
// dependency.
type StatsSource interface {
	DocumentCounts(ctx context.Context) (map[types.DocumentStatus]int, error)
	PendingJobCount(ctx context.Context) (int, error)
	ActiveSessionCount(ctx context.Context, since time.Time) (int, error)
}

// VectorCounter reports the total vectors held by the index layer
type VectorCounter interface {
	TotalVectors(ctx context.Context) (int, error)
}

// Collector periodically samples gauge metrics from the store and index
type Collector struct {
	source  StatsSource
	vectors VectorCounter
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource, vectors VectorCounter) *Collector {
	return &Collector{
		source:  source,
		vectors: vectors,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectDocumentMetrics(ctx)
	c.collectJobMetrics(ctx)
	c.collectSessionMetrics(ctx)
	c.collectIndexMetrics(ctx)
}

func (c *Collector) collectDocumentMetrics(ctx context.Context) {
	counts, err := c.source.DocumentCounts(ctx)
	if err != nil {
		return
	}
	for _, status := range []types.DocumentStatus{
		types.DocumentPending, types.DocumentProcessing,
		types.DocumentReady, types.DocumentFailed,
	} {
		DocumentsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectJobMetrics(ctx context.Context) {
	pending, err := c.source.PendingJobCount(ctx)
	if err != nil {
		return
	}
	JobQueueDepth.Set(float64(pending))
}

func (c *Collector) collectSessionMetrics(ctx context.Context) {
	active, err := c.source.ActiveSessionCount(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		return
	}
	SessionsActive.Set(float64(active))
}

func (c *Collector) collectIndexMetrics(ctx context.Context) {
	if c.vectors == nil {
		return
	}
	total, err := c.vectors.TotalVectors(ctx)
	if err != nil {
		return
	}
	IndexVectors.Set(float64(total))
}
