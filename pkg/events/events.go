package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventFileUploaded      EventType = "file.uploaded"
	EventFileDeleted       EventType = "file.deleted"
	EventDocumentReady     EventType = "document.ready"
	EventDocumentFailed    EventType = "document.failed"
	EventCrawlStarted      EventType = "crawl.started"
	EventCrawlProgress     EventType = "crawl.progress"
	EventCrawlCompleted    EventType = "crawl.completed"
	EventSyncStarted       EventType = "sync.started"
	EventSyncCompleted     EventType = "sync.completed"
	EventConnectorCreated  EventType = "connector.created"
	EventConnectorDeleted  EventType = "connector.deleted"
	EventAuthLogin         EventType = "auth.login"
	EventAuthDenied        EventType = "auth.denied"
	EventAuthTokenReplay   EventType = "auth.token_replay"
	EventChatMessage       EventType = "chat.message"
	EventDomainCreated     EventType = "domain.created"
	EventDomainDeleted     EventType = "domain.deleted"
	EventConfigChanged     EventType = "config.changed"
	EventIntegrityViolated EventType = "integrity.violated"
)

// Event is one in-process notification. OrgID scopes delivery: subscribers
// registered with a non-nil org filter only receive their tenant's events.
type Event struct {
	ID        string
	Type      EventType
	OrgID     uuid.UUID
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

type subscription struct {
	orgFilter *uuid.UUID // nil = all tenants (internal consumers)
}

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]subscription
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]subscription),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a subscription receiving every event
func (b *Broker) Subscribe() Subscriber {
	return b.subscribe(nil)
}

// SubscribeOrg creates a subscription receiving only one tenant's events
func (b *Broker) SubscribeOrg(orgID uuid.UUID) Subscriber {
	return b.subscribe(&orgID)
}

func (b *Broker) subscribe(orgFilter *uuid.UUID) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = subscription{orgFilter: orgFilter}
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to matching subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, s := range b.subscribers {
		if s.orgFilter != nil && *s.orgFilter != event.OrgID {
			continue
		}
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
