package controlplane

import (
	"slices"
	"time"

	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
	"github.com/zjrosen/textflow/internal/pubsub"
)

// InstanceEvent is published on the engine's broker whenever an instance
// commits new history. Created, Updated and Terminated pubsub event types
// carry it.
type InstanceEvent struct {
	InstanceID InstanceID
	Namespace  string
	State      workflow.State
	// Types lists the history events committed in this batch, in order.
	Types []workflow.EventType
	// Task is set when the batch recorded a task outcome.
	Task analysis.Kind
	// Error is set when the batch failed the instance or the engine faulted.
	Error     string
	Timestamp time.Time
}

// Status returns the caller-facing status of the event's state.
func (e InstanceEvent) Status() workflow.Status {
	return e.State.Status()
}

// EventFilter selects which instance events a subscriber receives.
type EventFilter struct {
	// Types limits events to these pubsub event types. If empty, all types are allowed.
	Types []pubsub.EventType

	// InstanceIDs limits events to these instances. If empty, all instances are allowed.
	InstanceIDs []InstanceID

	// Namespace limits events to one namespace. If empty, all namespaces are allowed.
	Namespace string
}

// Matches returns true if the event matches the filter criteria.
// An empty filter matches all events.
func (f *EventFilter) Matches(event pubsub.Event[InstanceEvent]) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, event.Type) {
		return false
	}
	if len(f.InstanceIDs) > 0 && !slices.Contains(f.InstanceIDs, event.Payload.InstanceID) {
		return false
	}
	if f.Namespace != "" && f.Namespace != event.Payload.Namespace {
		return false
	}
	return true
}

// IsEmpty returns true if the filter has no criteria set.
func (f *EventFilter) IsEmpty() bool {
	return len(f.Types) == 0 && len(f.InstanceIDs) == 0 && f.Namespace == ""
}

// eventFromBatch summarizes a committed batch.
func eventFromBatch(ns string, id InstanceID, state workflow.State, batch []workflow.Event, now time.Time) InstanceEvent {
	ev := InstanceEvent{
		InstanceID: id,
		Namespace:  ns,
		State:      state,
		Types:      make([]workflow.EventType, 0, len(batch)),
		Timestamp:  now,
	}
	for _, e := range batch {
		ev.Types = append(ev.Types, e.Type)
	}
	return ev
}

// pubsubType picks the broker event type for a batch.
func pubsubType(state workflow.State, batch []workflow.Event) pubsub.EventType {
	if state.IsTerminal() {
		return pubsub.TerminatedEvent
	}
	if len(batch) > 0 && batch[0].Type == workflow.EventInstanceCreated {
		return pubsub.CreatedEvent
	}
	return pubsub.UpdatedEvent
}
