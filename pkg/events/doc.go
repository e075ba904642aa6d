/*
Package events provides an in-memory event broker for Tome's pub/sub
notifications.

The events package implements a lightweight event bus broadcasting ingestion,
crawl, sync, and security events to interested subscribers. Delivery is
asynchronous and non-blocking: a slow subscriber drops events rather than
stalling the publisher.

# Architecture

	┌──────────────────── EVENT BROKER ─────────────────────┐
	│                                                        │
	│  Publisher ──► Event Channel (buffer: 100)             │
	│                      │                                 │
	│                Broadcast Loop                          │
	│                      │                                 │
	│        ┌─────────────┼──────────────┐                  │
	│        ▼             ▼              ▼                  │
	│  Subscriber     Subscriber     Subscriber              │
	│  (buffer: 50)   (org-scoped)   (buffer: 50)            │
	└────────────────────────────────────────────────────────┘

Subscriptions come in two flavours. Subscribe() receives every event and is
used by internal consumers (the audit recorder). SubscribeOrg(orgID) receives
only one tenant's events and backs live crawl progress on client-facing
streams; the filter runs inside the broker so a subscriber can never observe
another tenant's activity.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.SubscribeOrg(orgID)
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			// forward to websocket, update progress bar, ...
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventCrawlProgress,
		OrgID:   orgID,
		Message: "fetched 40/200 pages",
	})

# Delivery Guarantees

Events are best-effort: the broker never blocks a publisher, and a
subscriber whose buffer is full misses events. Anything that must be durable
(audit trail, job outcomes) is written to the store first; the broker only
accelerates visibility.
*/
package events
