package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/log"
	"github.com/tomehq/tome/pkg/store"
	"github.com/tomehq/tome/pkg/types"
)

// Recorder writes audit events to the append-only trail and mirrors them
// onto the event broker for live consumers. Recording never fails the
// operation being audited: persistence errors are logged and dropped.
type Recorder struct {
	store  store.AuditStore
	broker *events.Broker
	logger zerolog.Logger
}

// New creates a recorder. The broker may be nil (some CLI paths audit
// without a running event loop).
func New(st store.AuditStore, broker *events.Broker) *Recorder {
	return &Recorder{
		store:  st,
		broker: broker,
		logger: log.WithComponent("audit"),
	}
}

// Entry describes one auditable action.
type Entry struct {
	OrgID      uuid.UUID
	UserID     *uuid.UUID
	Action     string
	Resource   string
	ResourceID string
	Detail     string
	RequestID  string
	Severity   types.AuditSeverity
}

// Record persists the entry and publishes a matching broker event.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if e.Severity == "" {
		e.Severity = types.AuditInfo
	}

	event := &types.AuditEvent{
		ID:         uuid.New(),
		OrgID:      e.OrgID,
		UserID:     e.UserID,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Detail:     e.Detail,
		RequestID:  e.RequestID,
		Severity:   e.Severity,
	}

	if err := r.store.CreateAuditEvent(ctx, event); err != nil {
		r.logger.Error().Err(err).
			Str("action", e.Action).
			Str("org_id", e.OrgID.String()).
			Msg("Failed to persist audit event")
	}

	if r.broker != nil {
		meta := map[string]string{
			"resource": e.Resource,
			"severity": string(e.Severity),
		}
		if e.ResourceID != "" {
			meta["resource_id"] = e.ResourceID
		}
		r.broker.Publish(&events.Event{
			Type:     events.EventType(e.Action),
			OrgID:    e.OrgID,
			Message:  e.Detail,
			Metadata: meta,
		})
	}
}

// Security records a warning-severity entry for auth-sensitive actions.
func (r *Recorder) Security(ctx context.Context, e Entry) {
	e.Severity = types.AuditWarning
	r.Record(ctx, e)
}
