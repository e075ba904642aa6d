package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/types"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a waiter tuned to the background pool's one second
// poll cycle: 30s timeout, 250ms interval.
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 250*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForDocument waits for a document to reach the wanted status. A
// document that lands in failed while waiting for anything else aborts
// immediately with its error message.
func (w *Waiter) WaitForDocument(ctx context.Context, c *Client, docID uuid.UUID, status types.DocumentStatus) error {
	var last *types.Document
	err := w.WaitFor(ctx, func() bool {
		doc, derr := c.GetFile(ctx, docID)
		if derr != nil {
			return false
		}
		last = doc
		return doc.Status == status || doc.Status == types.DocumentFailed
	}, fmt.Sprintf("document %s to reach status %s", docID, status))
	if err != nil {
		return err
	}
	if last != nil && last.Status == types.DocumentFailed && status != types.DocumentFailed {
		return fmt.Errorf("document %s failed during processing: %s", docID, last.ErrorMessage)
	}
	return nil
}

// WaitForSync waits for the connector's most recent sync job to finish and
// returns it. A job ending in failed is returned, not an error; tests
// assert on the status they expect.
func (w *Waiter) WaitForSync(ctx context.Context, c *Client, connectorID uuid.UUID) (*types.SyncJob, error) {
	var job *types.SyncJob
	err := w.WaitFor(ctx, func() bool {
		jobs, jerr := c.ListSyncJobs(ctx, connectorID, 1)
		if jerr != nil || len(jobs) == 0 {
			return false
		}
		if jobs[0].Status != types.SyncSuccess && jobs[0].Status != types.SyncFailed {
			return false
		}
		job = jobs[0]
		return true
	}, fmt.Sprintf("connector %s sync to finish", connectorID))
	return job, err
}

// WaitForCrawlDone waits for the connector's crawl session to leave the
// running states.
func (w *Waiter) WaitForCrawlDone(ctx context.Context, c *Client, connectorID uuid.UUID) (types.CrawlStats, error) {
	var stats types.CrawlStats
	err := w.WaitFor(ctx, func() bool {
		st, serr := c.CrawlStatus(ctx, connectorID)
		if serr != nil {
			return false
		}
		stats = st
		return st.State == types.CrawlCompleted || st.State == types.CrawlFailed || st.State == types.CrawlCancelled
	}, fmt.Sprintf("connector %s crawl to finish", connectorID))
	return stats, err
}

// WaitForIdleQueue waits until the environment's job queue has nothing
// pending, meaning all enqueued background work has been claimed and run.
func (w *Waiter) WaitForIdleQueue(ctx context.Context, env *Env) error {
	return w.WaitFor(ctx, func() bool {
		n, err := env.Store.PendingJobCount(ctx)
		return err == nil && n == 0
	}, "job queue to drain")
}

// WaitForMessages waits until the session holds at least n messages.
func (w *Waiter) WaitForMessages(ctx context.Context, c *Client, sessionID uuid.UUID, n int) ([]*types.Message, error) {
	var msgs []*types.Message
	err := w.WaitFor(ctx, func() bool {
		got, merr := c.ListMessages(ctx, sessionID, 0, 0)
		if merr != nil {
			return false
		}
		msgs = got
		return len(msgs) >= n
	}, fmt.Sprintf("session %s to hold %d messages", sessionID, n))
	return msgs, err
}
