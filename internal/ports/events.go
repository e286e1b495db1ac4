package ports

import "context"

const (
	// EventAuditStarted is emitted once an audit moved to ONGOING.
	EventAuditStarted = "audit.started"
	// EventAuditSucceeded is emitted after the plan and SUCCEEDED state were committed.
	EventAuditSucceeded = "audit.succeeded"
	// EventAuditFailed is emitted when selection, lifecycle or planning failed.
	EventAuditFailed = "audit.failed"
	// EventAuditCancelled is emitted when an execution observed a cancellation.
	EventAuditCancelled = "audit.cancelled"
	// EventActionPlanCreated is emitted for every persisted plan.
	EventActionPlanCreated = "action_plan.created"
)

// DomainEvent represents a significant occurrence within the engine. Events
// carry structured payloads that subscribers can use for logging, UI updates,
// or integrations.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish blocks until all handlers ran. Implementations must be
// thread-safe.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Failures should be
// returned rather than panicking so publishers can keep delivering.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler.
type Subscription interface {
	Unsubscribe()
}
