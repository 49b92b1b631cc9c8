package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/task"
)

// EventType identifies a history record.
type EventType string

const (
	EventInstanceCreated   EventType = "instance_created"
	EventAwaitingSignal    EventType = "awaiting_signal"
	EventSignalReceived    EventType = "signal_received"
	EventInstanceStarted   EventType = "instance_started"
	EventTaskScheduled     EventType = "task_scheduled"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventTimerStarted      EventType = "timer_started"
	EventTimerFired        EventType = "timer_fired"
	EventInstanceCompleted EventType = "instance_completed"
	EventInstanceFailed    EventType = "instance_failed"
	EventInstanceCancelled EventType = "instance_cancelled"
)

// Event is one entry of an instance's append-only history.
// Seq starts at 1 and increases by one per event.
type Event struct {
	Seq        int64           `json:"seq"`
	Type       EventType       `json:"type"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Payloads, one per event type that carries data.
type (
	CreatedPayload struct {
		Text string `json:"text"`
	}
	SignalPayload struct {
		Signal Signal `json:"signal"`
	}
	TaskScheduledPayload struct {
		Task analysis.Kind `json:"task"`
	}
	TaskCompletedPayload struct {
		Task   analysis.Kind   `json:"task"`
		Result json.RawMessage `json:"result"`
	}
	TaskFailedPayload struct {
		Task  analysis.Kind   `json:"task"`
		Error *task.TaskError `json:"error"`
	}
	TimerStartedPayload struct {
		FireAt time.Time `json:"fire_at"`
	}
	TimerFiredPayload struct {
		FiredAt time.Time `json:"fired_at"`
	}
	CompletedPayload struct {
		Result *analysis.AnalysisResult `json:"result"`
	}
	FailedPayload struct {
		Failure *Failure `json:"failure"`
	}
)

func newEvent(seq int64, typ EventType, at time.Time, payload any) (Event, error) {
	ev := Event{Seq: seq, Type: typ, RecordedAt: at}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

func decode[T any](ev Event) (T, error) {
	var p T
	if len(ev.Payload) == 0 {
		return p, fmt.Errorf("%s event %d has no payload", ev.Type, ev.Seq)
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return p, fmt.Errorf("decoding %s event %d: %w", ev.Type, ev.Seq, err)
	}
	return p, nil
}
