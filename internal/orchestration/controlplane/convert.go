package controlplane

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/task"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

// instanceFromView builds the persisted snapshot of a machine view.
func instanceFromView(ns string, id InstanceID, v workflow.View) (*domain.Instance, error) {
	inst := &domain.Instance{
		ID:             string(id),
		Namespace:      ns,
		State:          string(v.State),
		Text:           v.Text,
		StartReceived:  v.StartReceived,
		CancelReceived: v.CancelReceived,
		Tasks:          make(map[string]domain.TaskRecord, len(v.Tasks)),
		TimerFireAt:    timePtr(v.TimerFireAt),
		CreatedAt:      v.CreatedAt,
		StartedAt:      timePtr(v.StartedAt),
		CompletedAt:    timePtr(v.CompletedAt),
		UpdatedAt:      v.UpdatedAt,
		LastSeq:        v.LastSeq,
	}

	for kind, o := range v.Tasks {
		rec := domain.TaskRecord{Scheduled: o.Scheduled, Result: o.Result}
		if o.Error != nil {
			b, err := json.Marshal(o.Error)
			if err != nil {
				return nil, fmt.Errorf("encoding %s error: %w", kind, err)
			}
			rec.Error = b
		}
		inst.Tasks[string(kind)] = rec
	}

	if v.Result != nil {
		b, err := json.Marshal(v.Result)
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		inst.Result = b
	}
	if v.Failure != nil {
		b, err := json.Marshal(v.Failure)
		if err != nil {
			return nil, fmt.Errorf("encoding failure: %w", err)
		}
		inst.Failure = b
	}
	return inst, nil
}

// snapshotFromInstance decodes a persisted snapshot.
func snapshotFromInstance(inst *domain.Instance) (*Snapshot, error) {
	state, err := workflow.ParseState(inst.State)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:             InstanceID(inst.ID),
		Namespace:      inst.Namespace,
		State:          state,
		Text:           inst.Text,
		StartReceived:  inst.StartReceived,
		CancelReceived: inst.CancelReceived,
		Tasks:          make(map[analysis.Kind]workflow.TaskOutcome, len(inst.Tasks)),
		TimerFireAt:    inst.TimerFireAt,
		CreatedAt:      inst.CreatedAt,
		StartedAt:      inst.StartedAt,
		CompletedAt:    inst.CompletedAt,
		UpdatedAt:      inst.UpdatedAt,
		LastSeq:        inst.LastSeq,
	}

	for name, rec := range inst.Tasks {
		o := workflow.TaskOutcome{Scheduled: rec.Scheduled, Result: rec.Result}
		if len(rec.Error) > 0 {
			o.Error = &task.TaskError{}
			if err := json.Unmarshal(rec.Error, o.Error); err != nil {
				return nil, fmt.Errorf("decoding %s error: %w", name, err)
			}
		}
		snap.Tasks[analysis.Kind(name)] = o
	}

	if len(inst.Result) > 0 {
		snap.Result = &analysis.AnalysisResult{}
		if err := json.Unmarshal(inst.Result, snap.Result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
	}
	if len(inst.Failure) > 0 {
		snap.Failure = &workflow.Failure{}
		if err := json.Unmarshal(inst.Failure, snap.Failure); err != nil {
			return nil, fmt.Errorf("decoding failure: %w", err)
		}
	}
	return snap, nil
}

func toDomainEvents(id InstanceID, events []workflow.Event) []domain.Event {
	out := make([]domain.Event, len(events))
	for i, ev := range events {
		out[i] = domain.Event{
			InstanceID: string(id),
			Seq:        ev.Seq,
			Type:       string(ev.Type),
			Payload:    ev.Payload,
			RecordedAt: ev.RecordedAt,
		}
	}
	return out
}

func fromDomainEvents(events []domain.Event) []workflow.Event {
	out := make([]workflow.Event, len(events))
	for i, ev := range events {
		out[i] = workflow.Event{
			Seq:        ev.Seq,
			Type:       workflow.EventType(ev.Type),
			RecordedAt: ev.RecordedAt,
			Payload:    ev.Payload,
		}
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
