package engine

import (
	"context"
	"time"
)

// ResourceRecord is the persisted snapshot of a resource's lifecycle state.
type ResourceRecord struct {
	// Name is the resource name, unique within the store.
	Name string `json:"name"`

	// Type is the registered resource type name.
	Type string `json:"type"`

	// Identity is the backend identifier, empty until creation succeeds.
	Identity string `json:"identity,omitempty"`

	// Action and Status form the observable lifecycle state.
	Action Action `json:"action"`
	Status Status `json:"status"`

	// Reason is the failure reason when Status is FAILED.
	Reason string `json:"reason,omitempty"`

	// UpdatedAt is when this snapshot was recorded.
	UpdatedAt time.Time `json:"updated_at"`
}

// LifecycleEvent is one entry of the append-only lifecycle event log.
type LifecycleEvent struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Resource is the name of the resource the event belongs to.
	Resource string `json:"resource"`

	// TaskID is the task that produced the event, if any.
	TaskID string `json:"task_id,omitempty"`

	// Action and Status capture the lifecycle state at event time.
	Action Action `json:"action"`
	Status Status `json:"status"`

	// Message is a human-readable description of what happened.
	Message string `json:"message"`

	// Level is the event severity (info, warning, error).
	Level string `json:"level"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// StateStore persists resource lifecycle state and events. Implementations
// live outside the engine; a nil store keeps everything in memory.
type StateStore interface {
	// SaveResourceState upserts the current snapshot of a resource.
	SaveResourceState(ctx context.Context, record *ResourceRecord) error

	// AppendEvent appends a lifecycle event to the log.
	AppendEvent(ctx context.Context, event *LifecycleEvent) error
}

// EventSink receives lifecycle events as they are produced. Sinks must not
// block; slow consumers should buffer internally.
type EventSink interface {
	Publish(event LifecycleEvent)
}
