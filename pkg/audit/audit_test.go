package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomehq/tome/pkg/events"
	"github.com/tomehq/tome/pkg/types"
)

type captureStore struct {
	mu     sync.Mutex
	events []*types.AuditEvent
	err    error
}

func (c *captureStore) CreateAuditEvent(_ context.Context, e *types.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *captureStore) ListAuditEvents(_ context.Context, orgID uuid.UUID, limit, offset int) ([]*types.AuditEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events, nil
}

func TestRecordPersistsAndPublishes(t *testing.T) {
	st := &captureStore{}
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	orgID := uuid.New()
	sub := broker.SubscribeOrg(orgID)
	defer broker.Unsubscribe(sub)

	r := New(st, broker)
	userID := uuid.New()
	r.Record(context.Background(), Entry{
		OrgID:      orgID,
		UserID:     &userID,
		Action:     string(events.EventFileUploaded),
		Resource:   "document",
		ResourceID: "doc-1",
		Detail:     "manual.pdf uploaded",
	})

	st.mu.Lock()
	require.Len(t, st.events, 1)
	stored := st.events[0]
	st.mu.Unlock()

	assert.NotEqual(t, uuid.Nil, stored.ID)
	assert.Equal(t, types.AuditInfo, stored.Severity, "severity defaults to info")
	assert.Equal(t, "document", stored.Resource)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventFileUploaded, ev.Type)
		assert.Equal(t, orgID, ev.OrgID)
		assert.Equal(t, "doc-1", ev.Metadata["resource_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected broker event")
	}
}

func TestRecordSurvivesStoreFailure(t *testing.T) {
	st := &captureStore{err: assert.AnError}
	r := New(st, nil)

	// Must not panic or propagate the store error.
	r.Record(context.Background(), Entry{
		OrgID:  uuid.New(),
		Action: "auth.denied",
	})
}

func TestSecurityUpgradesToWarning(t *testing.T) {
	st := &captureStore{}
	r := New(st, nil)

	r.Security(context.Background(), Entry{
		OrgID:  uuid.New(),
		Action: "auth.denied",
		Detail: "bad credentials",
	})

	require.Len(t, st.events, 1)
	assert.Equal(t, types.AuditWarning, st.events[0].Severity)
}
