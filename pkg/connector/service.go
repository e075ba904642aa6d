package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/audit"
	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/metrics"
	"github.com/tomehq/tome/pkg/security"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

const (
	// minSchedule keeps connector schedules from turning into hot loops.
	minSchedule = time.Minute
	// defaultSyncLease bounds how long one sync run may hold its job. A
	// running job older than this is failed by the scheduler sweep, and a
	// pending one stops blocking new triggers.
	defaultSyncLease = 30 * time.Minute

	errMessageCap = 500
)

// Deps carries the framework's collaborators. Store and Ingest are
// required. Crawler enables the web variant; without it the type is not
// registered. Cipher seals credentials at rest and may be nil in
// development. Audit, Broker, and Client may be nil.
type Deps struct {
	Store     store.Store
	Ingest    Ingestor
	Crawler   Crawler
	Cipher    *security.Cipher
	Audit     *audit.Recorder
	Broker    *events.Broker
	Client    *http.Client
	SyncLease time.Duration
}

// Service is the connector framework: it owns the write boundary for
// connector rows (validation, credential sealing), dispatches capability
// calls to the registered variants, and runs the sync job lifecycle.
// Cross-connector state (sync jobs, crawled pages) lives here, never on
// a variant.
type Service struct {
	store    store.Store
	ingest   Ingestor
	registry *Registry
	cipher   *security.Cipher
	audit    *audit.Recorder
	broker   *events.Broker
	lease    time.Duration
	logger   zerolog.Logger
}

// NewService creates the framework with the built-in variants registered.
func NewService(deps Deps) *Service {
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	lease := deps.SyncLease
	if lease <= 0 {
		lease = defaultSyncLease
	}

	reg := NewRegistry()
	reg.Register(NewFile(deps.Store))
	if deps.Crawler != nil {
		reg.Register(NewWeb(deps.Crawler))
	}
	reg.Register(NewJira(client))
	reg.Register(NewGitHub(client))
	reg.Register(NewConfluence(client))

	return &Service{
		store:    deps.Store,
		ingest:   deps.Ingest,
		registry: reg,
		cipher:   deps.Cipher,
		audit:    deps.Audit,
		broker:   deps.Broker,
		lease:    lease,
		logger:   log.WithComponent("connector"),
	}
}

// Registry exposes the variant registry for capability listings.
func (s *Service) Registry() *Registry { return s.registry }

// Capabilities returns the capability set for typ.
func (s *Service) Capabilities(typ types.ConnectorType) ([]Capability, error) {
	variant, err := s.registry.Get(typ)
	if err != nil {
		return nil, err
	}
	return variant.Capabilities(), nil
}

// Create validates and persists a new connector. Unknown config keys are
// rejected, credentials are sealed, and the row starts with no sync
// history.
func (s *Service) Create(ctx context.Context, conn *types.Connector, actor *uuid.UUID) error {
	if _, err := s.registry.Get(conn.Type); err != nil {
		return err
	}
	if strings.TrimSpace(conn.Name) == "" {
		return fmt.Errorf("connector name is required: %w", errdefs.ErrBadRequest)
	}
	if err := checkSchedule(conn.Schedule); err != nil {
		return err
	}
	if err := ValidateConfig(conn.Type, conn.Config); err != nil {
		return err
	}
	sealed, err := sealConfig(s.cipher, conn.Type, conn.Config)
	if err != nil {
		return err
	}
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	conn.Config = sealed

	if err := s.store.CreateConnector(ctx, conn); err != nil {
		return err
	}
	s.auditRecord(ctx, conn, actor, events.EventConnectorCreated,
		fmt.Sprintf("created %s connector %q", conn.Type, conn.Name))
	s.logger.Info().
		Str("connector_id", conn.ID.String()).
		Str("org_id", conn.OrgID.String()).
		Str("type", string(conn.Type)).
		Msg("Connector created")
	return nil
}

// Update validates and persists config changes. A credential field
// carrying the redaction placeholder keeps its stored value, so clients
// can echo a redacted read back without wiping secrets. The connector
// type is fixed at creation.
func (s *Service) Update(ctx context.Context, conn *types.Connector, actor *uuid.UUID) error {
	existing, err := s.store.GetConnector(ctx, conn.OrgID, conn.ID)
	if err != nil {
		return err
	}
	if conn.Type != existing.Type {
		return fmt.Errorf("connector type cannot change after creation: %w", errdefs.ErrBadRequest)
	}
	if strings.TrimSpace(conn.Name) == "" {
		return fmt.Errorf("connector name is required: %w", errdefs.ErrBadRequest)
	}
	if err := checkSchedule(conn.Schedule); err != nil {
		return err
	}

	conn.Config = restoreRedacted(conn.Type, conn.Config, existing.Config)
	if err := ValidateConfig(conn.Type, conn.Config); err != nil {
		return err
	}
	sealed, err := sealConfig(s.cipher, conn.Type, conn.Config)
	if err != nil {
		return err
	}
	conn.Config = sealed
	conn.LastSyncAt = existing.LastSyncAt
	conn.CreatedAt = existing.CreatedAt

	if err := s.store.UpdateConnector(ctx, conn); err != nil {
		return err
	}
	s.auditRecord(ctx, conn, actor, events.EventConfigChanged,
		fmt.Sprintf("updated %s connector %q", conn.Type, conn.Name))
	return nil
}

// Delete removes a connector and its crawled-page records.
func (s *Service) Delete(ctx context.Context, orgID, id uuid.UUID, actor *uuid.UUID) error {
	conn, err := s.store.GetConnector(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConnector(ctx, orgID, id); err != nil {
		return err
	}
	s.auditRecord(ctx, conn, actor, events.EventConnectorDeleted,
		fmt.Sprintf("deleted %s connector %q", conn.Type, conn.Name))
	s.logger.Info().
		Str("connector_id", id.String()).
		Str("org_id", orgID.String()).
		Msg("Connector deleted")
	return nil
}

// Get returns a connector with its credentials redacted for display.
func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (*types.Connector, error) {
	conn, err := s.store.GetConnector(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	conn.Config = RedactConfig(conn.Type, conn.Config)
	return conn, nil
}

// List returns the org's connectors (optionally scoped to one domain)
// with credentials redacted.
func (s *Service) List(ctx context.Context, orgID, domainID uuid.UUID) ([]*types.Connector, error) {
	conns, err := s.store.ListConnectors(ctx, orgID, domainID)
	if err != nil {
		return nil, err
	}
	for _, conn := range conns {
		conn.Config = RedactConfig(conn.Type, conn.Config)
	}
	return conns, nil
}

// Test verifies a config against its remote without writing anything.
// Stored configs arrive sealed and are opened first; candidate configs
// from a request body pass through untouched.
func (s *Service) Test(ctx context.Context, typ types.ConnectorType, cfg map[string]any) error {
	variant, err := s.registry.Get(typ)
	if err != nil {
		return err
	}
	if !HasCapability(variant, CapTest) {
		return fmt.Errorf("%s connectors do not support test: %w", typ, errdefs.ErrBadRequest)
	}
	opened, err := openConfig(s.cipher, typ, cfg)
	if err != nil {
		return err
	}
	return variant.Test(ctx, opened)
}

// Preview reports what a sync would pull without ingesting anything.
func (s *Service) Preview(ctx context.Context, typ types.ConnectorType, cfg map[string]any) (*Preview, error) {
	variant, err := s.registry.Get(typ)
	if err != nil {
		return nil, err
	}
	if !HasCapability(variant, CapPreview) {
		return nil, fmt.Errorf("%s connectors do not support preview: %w", typ, errdefs.ErrBadRequest)
	}
	opened, err := openConfig(s.cipher, typ, cfg)
	if err != nil {
		return nil, err
	}
	return variant.Preview(ctx, opened)
}

// TriggerSync creates a pending SyncJob and enqueues its queue entry. At
// most one sync per connector is in flight: a pending or running job
// younger than the lease makes further triggers conflict.
func (s *Service) TriggerSync(ctx context.Context, conn *types.Connector) (*types.SyncJob, error) {
	variant, err := s.registry.Get(conn.Type)
	if err != nil {
		return nil, err
	}
	if !HasCapability(variant, CapSync) {
		return nil, fmt.Errorf("%s connectors do not support sync: %w", conn.Type, errdefs.ErrBadRequest)
	}
	active, err := s.hasActiveSync(ctx, conn)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("connector %s already has a sync in flight: %w", conn.ID, errdefs.ErrConflict)
	}

	job := &types.SyncJob{
		ID:          uuid.New(),
		ConnectorID: conn.ID,
		OrgID:       conn.OrgID,
		Status:      types.SyncPending,
	}
	if err := s.store.CreateSyncJob(ctx, job); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(types.SyncPayload{ConnectorID: conn.ID, SyncJobID: job.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync payload: %w", err)
	}
	queueJob := &types.Job{
		Kind:        types.JobConnectorSync,
		OrgID:       conn.OrgID,
		Payload:     payload,
		MaxAttempts: 1, // a failed sync waits for its next schedule, not a queue retry
	}
	if err := s.store.Enqueue(ctx, queueJob); err != nil {
		return nil, fmt.Errorf("failed to queue sync: %w", err)
	}
	return job, nil
}

// RunSync executes one connector_sync payload from the queue. Whatever
// happens, the SyncJob reaches a terminal state: variant failures,
// missing rows, and cancellation all finish the record, using a context
// detached from cancellation for the final writes.
func (s *Service) RunSync(ctx context.Context, orgID uuid.UUID, payload types.SyncPayload) error {
	job, err := s.store.GetSyncJob(ctx, orgID, payload.SyncJobID)
	if errdefs.IsNotFound(err) {
		s.logger.Warn().
			Str("sync_job_id", payload.SyncJobID.String()).
			Msg("Sync job record missing; dropping run")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status == types.SyncSuccess || job.Status == types.SyncFailed {
		// Redelivered after completion.
		return nil
	}

	conn, err := s.store.GetConnector(ctx, orgID, payload.ConnectorID)
	if errdefs.IsNotFound(err) {
		s.finishSync(ctx, nil, job, 0, 0, errors.New("connector deleted before sync ran"))
		return nil
	}
	if err != nil {
		return err
	}

	variant, err := s.registry.Get(conn.Type)
	if err != nil {
		s.finishSync(ctx, conn, job, 0, 0, err)
		return nil
	}

	now := time.Now()
	job.Status = types.SyncRunning
	job.StartedAt = &now
	if err := s.store.UpdateSyncJob(ctx, job); err != nil {
		return err
	}
	s.publish(events.EventSyncStarted, conn, fmt.Sprintf("%s sync started", conn.Type))
	s.logger.Info().
		Str("connector_id", conn.ID.String()).
		Str("org_id", conn.OrgID.String()).
		Str("type", string(conn.Type)).
		Msg("Sync started")

	cfg, err := openConfig(s.cipher, conn.Type, conn.Config)
	if err != nil {
		s.finishSync(ctx, conn, job, 0, 0, err)
		return nil
	}

	sc := &SyncContext{
		Connector: conn,
		Config:    cfg,
		ingest:    s.ingest,
		logger:    s.logger.With().Str("connector", conn.ID.String()).Logger(),
	}
	syncErr := variant.Sync(ctx, sc)
	pages, created := sc.counts()
	s.finishSync(ctx, conn, job, pages, created, syncErr)
	return syncErr
}

// finishSync writes the terminal job state and stamps the connector's
// LastSyncAt for both outcomes, so a failing connector waits out its full
// schedule instead of being retried every scan.
func (s *Service) finishSync(ctx context.Context, conn *types.Connector, job *types.SyncJob, pages, created int, syncErr error) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now()
	job.CompletedAt = &now
	job.PagesProcessed = pages
	job.DocumentsCreated = created
	if syncErr != nil {
		job.Status = types.SyncFailed
		job.ErrorMessage = trimErrMessage(syncErr)
	} else {
		job.Status = types.SyncSuccess
	}
	if err := s.store.UpdateSyncJob(ctx, job); err != nil {
		s.logger.Error().Err(err).
			Str("sync_job_id", job.ID.String()).
			Msg("Failed to record sync outcome")
	}

	typeLabel := "unknown"
	if conn != nil {
		typeLabel = string(conn.Type)
	}
	metrics.SyncRunsTotal.WithLabelValues(typeLabel, string(job.Status)).Inc()

	if conn == nil {
		return
	}
	conn.LastSyncAt = &now
	if err := s.store.UpdateConnector(ctx, conn); err != nil {
		s.logger.Error().Err(err).
			Str("connector_id", conn.ID.String()).
			Msg("Failed to stamp connector sync time")
	}
	s.publish(events.EventSyncCompleted, conn,
		fmt.Sprintf("sync %s: %d items processed, %d documents created", job.Status, pages, created))

	evt := s.logger.Info()
	if syncErr != nil {
		evt = s.logger.Error().Err(syncErr)
	}
	evt.Str("connector_id", conn.ID.String()).
		Str("type", string(conn.Type)).
		Str("status", string(job.Status)).
		Int("pages", pages).
		Int("documents", created).
		Msg("Sync finished")
}

// hasActiveSync reports whether the connector has a pending or running
// job younger than the lease. Older strays are ignored; the scheduler
// sweep fails running ones, and an abandoned pending job stops counting
// once it could no longer be delivered in time.
func (s *Service) hasActiveSync(ctx context.Context, conn *types.Connector) (bool, error) {
	jobs, err := s.store.ListSyncJobs(ctx, conn.OrgID, conn.ID, 5)
	if err != nil {
		return false, err
	}
	horizon := time.Now().Add(-s.lease)
	for _, job := range jobs {
		switch job.Status {
		case types.SyncPending:
			if job.CreatedAt.After(horizon) {
				return true, nil
			}
		case types.SyncRunning:
			started := job.CreatedAt
			if job.StartedAt != nil {
				started = *job.StartedAt
			}
			if started.After(horizon) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Service) auditRecord(ctx context.Context, conn *types.Connector, actor *uuid.UUID, action events.EventType, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Entry{
		OrgID:      conn.OrgID,
		UserID:     actor,
		Action:     string(action),
		Resource:   "connector",
		ResourceID: conn.ID.String(),
		Detail:     detail,
	})
}

func (s *Service) publish(eventType events.EventType, conn *types.Connector, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:    eventType,
		OrgID:   conn.OrgID,
		Message: message,
		Metadata: map[string]string{
			"connector_id": conn.ID.String(),
			"domain_id":    conn.DomainID.String(),
			"type":         string(conn.Type),
		},
	})
}

func checkSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	interval, err := time.ParseDuration(schedule)
	if err != nil {
		return fmt.Errorf("schedule %q is not a duration: %w", schedule, errdefs.ErrBadRequest)
	}
	if interval < minSchedule {
		return fmt.Errorf("schedule %q is below the %s minimum: %w", schedule, minSchedule, errdefs.ErrBadRequest)
	}
	return nil
}

func trimErrMessage(err error) string {
	msg := err.Error()
	if len(msg) > errMessageCap {
		msg = msg[:errMessageCap]
	}
	return msg
}
