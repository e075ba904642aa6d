package connector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/store"
)

// defaultScanInterval is how often the scheduler looks for due
// connectors when no interval is configured.
const defaultScanInterval = time.Minute

// Scheduler turns connector schedules into queued sync runs. Each scan
// first fails running jobs that outlived their lease, so no sync runs
// forever, then queues a sync for every enabled connector whose
// schedule has elapsed. Connectors with a run already in flight are
// skipped, so a slow crawl never piles up behind itself.
type Scheduler struct {
	svc    *Service
	store  store.Store
	scan   time.Duration
	lease  time.Duration
	logger zerolog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a scheduler. Zero durations fall back to the
// package defaults.
func NewScheduler(svc *Service, st store.Store, scan, lease time.Duration) *Scheduler {
	if scan <= 0 {
		scan = defaultScanInterval
	}
	if lease <= 0 {
		lease = defaultSyncLease
	}
	return &Scheduler{
		svc:    svc,
		store:  st,
		scan:   scan,
		lease:  lease,
		logger: log.WithComponent("sync-scheduler"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the scan loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the loop and waits for any in-progress scan to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.scan)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// sweep runs one scheduling cycle and returns how many syncs it queued.
func (s *Scheduler) sweep(ctx context.Context) int {
	now := time.Now()

	if n, err := s.store.FailStaleSyncJobs(ctx, now.Add(-s.lease)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to sweep stale sync jobs")
	} else if n > 0 {
		s.logger.Warn().Int("jobs", n).Msg("Marked stale sync jobs failed")
	}

	due, err := s.store.ListDueConnectors(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list due connectors")
		return 0
	}

	queued := 0
	for _, conn := range due {
		if _, err := s.svc.TriggerSync(ctx, conn); err != nil {
			if errdefs.IsConflict(err) {
				// Previous run still in flight.
				continue
			}
			s.logger.Error().Err(err).
				Str("connector_id", conn.ID.String()).
				Str("name", conn.Name).
				Msg("Failed to queue scheduled sync")
			continue
		}
		queued++
		s.logger.Info().
			Str("connector_id", conn.ID.String()).
			Str("name", conn.Name).
			Str("schedule", conn.Schedule).
			Msg("Queued scheduled sync")
	}
	return queued
}
