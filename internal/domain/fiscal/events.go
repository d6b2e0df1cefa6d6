package fiscal

import (
	"context"
	"slices"
)

// Event is a document lifecycle event delivered to webhook subscribers.
type Event string

const (
	EventAuthorized  Event = "document.authorized"
	EventRejected    Event = "document.rejected"
	EventCancelled   Event = "document.cancelled"
	EventContingency Event = "document.contingency"
	EventProcessing  Event = "document.processing"
)

// Events lists every event in a stable order.
func Events() []Event {
	return []Event{EventAuthorized, EventRejected, EventCancelled, EventContingency, EventProcessing}
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	return slices.Contains(Events(), e)
}

// EventFor returns the event announcing the document's current state, or
// false when the state is not announced (pending outside contingency).
func EventFor(doc *FiscalDocument) (Event, bool) {
	switch doc.Status {
	case StatusAuthorized:
		return EventAuthorized, true
	case StatusRejected:
		return EventRejected, true
	case StatusCancelled:
		return EventCancelled, true
	case StatusProcessing:
		return EventProcessing, true
	case StatusPending:
		if doc.ContingencyMode {
			return EventContingency, true
		}
	}
	return "", false
}

// EventPublisher records lifecycle events for asynchronous delivery. Publish
// joins the caller's transaction when one is open.
type EventPublisher interface {
	Publish(ctx context.Context, doc *FiscalDocument, event Event) error
}
