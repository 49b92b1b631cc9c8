package testutil

import (
	"fmt"
	"time"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

// instanceData holds all data for an instance to be inserted.
type instanceData struct {
	inst   *domain.Instance
	events int
}

// InstanceOption configures an instance built by the Builder.
type InstanceOption func(*instanceData)

func defaultInstance(id string) instanceData {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return instanceData{
		inst: &domain.Instance{
			ID:        id,
			Namespace: domain.DefaultNamespace,
			State:     "AWAITING_SIGNAL",
			Text:      "The quick brown fox jumps over the lazy dog.",
			Tasks:     map[string]domain.TaskRecord{},
			CreatedAt: now,
			UpdatedAt: now,
		},
		events: 2,
	}
}

// Namespace sets the instance namespace.
func Namespace(ns string) InstanceOption {
	return func(d *instanceData) { d.inst.Namespace = ns }
}

// State sets the instance state.
func State(s string) InstanceOption {
	return func(d *instanceData) { d.inst.State = s }
}

// Text sets the analyzed text.
func Text(text string) InstanceOption {
	return func(d *instanceData) { d.inst.Text = text }
}

// CreatedAt sets the creation and update timestamps.
func CreatedAt(t time.Time) InstanceOption {
	return func(d *instanceData) {
		d.inst.CreatedAt = t
		d.inst.UpdatedAt = t
	}
}

// Result sets the JSON aggregate and stamps the completion time.
func Result(doc string) InstanceOption {
	return func(d *instanceData) {
		d.inst.Result = []byte(doc)
		at := d.inst.CreatedAt.Add(time.Minute)
		d.inst.CompletedAt = &at
	}
}

// Failure sets the JSON failure cause and stamps the completion time.
func Failure(doc string) InstanceOption {
	return func(d *instanceData) {
		d.inst.Failure = []byte(doc)
		at := d.inst.CreatedAt.Add(time.Minute)
		d.inst.CompletedAt = &at
	}
}

// Task records a task outcome. An empty result leaves the task in flight.
func Task(kind, result string) InstanceOption {
	return func(d *instanceData) {
		rec := domain.TaskRecord{Scheduled: true}
		if result != "" {
			rec.Result = []byte(result)
		}
		d.inst.Tasks[kind] = rec
	}
}

// TimerFireAt marks a pending cool-down.
func TimerFireAt(t time.Time) InstanceOption {
	return func(d *instanceData) { d.inst.TimerFireAt = &t }
}

// Events sets how many history events are generated for the instance.
func Events(n int) InstanceOption {
	return func(d *instanceData) { d.events = n }
}

// NewEvents returns n sequential events for an instance starting at seq from.
func NewEvents(instanceID string, from int64, n int) []domain.Event {
	events := make([]domain.Event, 0, n)
	at := time.Now().UTC().Truncate(time.Millisecond)
	for i := range n {
		seq := from + int64(i)
		events = append(events, domain.Event{
			InstanceID: instanceID,
			Seq:        seq,
			Type:       "test_event",
			Payload:    []byte(fmt.Sprintf(`{"n":%d}`, seq)),
			RecordedAt: at,
		})
	}
	return events
}
