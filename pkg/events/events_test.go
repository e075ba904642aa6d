package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroadcast(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	defer broker.Unsubscribe(sub2)

	orgID := uuid.New()
	broker.Publish(&Event{Type: EventFileUploaded, OrgID: orgID, Message: "report.pdf"})

	e1 := receive(t, sub1)
	e2 := receive(t, sub2)

	assert.Equal(t, EventFileUploaded, e1.Type)
	assert.Equal(t, e1.ID, e2.ID)
	assert.False(t, e1.Timestamp.IsZero())
}

func TestOrgScopedSubscription(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	orgA := uuid.New()
	orgB := uuid.New()

	subA := broker.SubscribeOrg(orgA)
	all := broker.Subscribe()
	defer broker.Unsubscribe(subA)
	defer broker.Unsubscribe(all)

	broker.Publish(&Event{Type: EventCrawlProgress, OrgID: orgB})
	broker.Publish(&Event{Type: EventCrawlCompleted, OrgID: orgA})

	// the unfiltered subscriber sees both, in order
	e := receive(t, all)
	require.Equal(t, EventCrawlProgress, e.Type)
	e = receive(t, all)
	require.Equal(t, EventCrawlCompleted, e.Type)

	// the org-scoped subscriber only ever sees its own tenant
	e = receive(t, subA)
	assert.Equal(t, EventCrawlCompleted, e.Type)
	assert.Equal(t, orgA, e.OrgID)
	assert.Empty(t, subA)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	// overflow the 50-slot subscriber buffer; Publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventCrawlProgress, OrgID: uuid.New()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestSubscriberCount(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	assert.Equal(t, 0, broker.SubscriberCount())

	sub := broker.Subscribe()
	assert.Equal(t, 1, broker.SubscriberCount())

	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())
}
