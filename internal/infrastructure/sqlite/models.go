package sqlite

import (
	"encoding/json"
	"time"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

// InstanceModel represents the database row for the instances table.
// Time values are stored as Unix milliseconds.
type InstanceModel struct {
	PK             int64
	Namespace      string
	ID             string
	State          string
	Text           string
	StartReceived  bool
	CancelReceived bool
	Tasks          *string // nullable, JSON encoded
	Result         *string // nullable, JSON document
	Failure        *string // nullable, JSON document
	TimerFireAt    *int64  // nullable
	CreatedAt      int64
	StartedAt      *int64 // nullable
	CompletedAt    *int64 // nullable
	UpdatedAt      int64
	LastSeq        int64
}

// taskModel is the JSON form of a task record inside the tasks column.
type taskModel struct {
	Scheduled bool            `json:"scheduled"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// EventModel represents the database row for the instance_events table.
type EventModel struct {
	InstancePK int64
	Seq        int64
	Type       string
	Payload    []byte
	RecordedAt int64
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func optMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

func optString(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func optBytes(s *string) []byte {
	if s == nil {
		return nil
	}
	return []byte(*s)
}

// toInstanceModel converts a domain Instance to a database InstanceModel.
func toInstanceModel(inst *domain.Instance) (*InstanceModel, error) {
	m := &InstanceModel{
		Namespace:      inst.Namespace,
		ID:             inst.ID,
		State:          inst.State,
		Text:           inst.Text,
		StartReceived:  inst.StartReceived,
		CancelReceived: inst.CancelReceived,
		Result:         optString(inst.Result),
		Failure:        optString(inst.Failure),
		TimerFireAt:    optMillis(inst.TimerFireAt),
		CreatedAt:      millis(inst.CreatedAt),
		StartedAt:      optMillis(inst.StartedAt),
		CompletedAt:    optMillis(inst.CompletedAt),
		UpdatedAt:      millis(inst.UpdatedAt),
		LastSeq:        inst.LastSeq,
	}
	if len(inst.Tasks) > 0 {
		tasks := make(map[string]taskModel, len(inst.Tasks))
		for kind, rec := range inst.Tasks {
			tasks[kind] = taskModel{Scheduled: rec.Scheduled, Result: rec.Result, Error: rec.Error}
		}
		data, err := json.Marshal(tasks)
		if err != nil {
			return nil, err
		}
		encoded := string(data)
		m.Tasks = &encoded
	}
	return m, nil
}

// toDomain converts a database InstanceModel to a domain Instance.
func (m *InstanceModel) toDomain() (*domain.Instance, error) {
	inst := &domain.Instance{
		ID:             m.ID,
		Namespace:      m.Namespace,
		State:          m.State,
		Text:           m.Text,
		StartReceived:  m.StartReceived,
		CancelReceived: m.CancelReceived,
		Tasks:          map[string]domain.TaskRecord{},
		Result:         optBytes(m.Result),
		Failure:        optBytes(m.Failure),
		TimerFireAt:    fromMillis(m.TimerFireAt),
		CreatedAt:      time.UnixMilli(m.CreatedAt),
		StartedAt:      fromMillis(m.StartedAt),
		CompletedAt:    fromMillis(m.CompletedAt),
		UpdatedAt:      time.UnixMilli(m.UpdatedAt),
		LastSeq:        m.LastSeq,
	}
	if m.Tasks != nil {
		var tasks map[string]taskModel
		if err := json.Unmarshal([]byte(*m.Tasks), &tasks); err != nil {
			return nil, err
		}
		for kind, t := range tasks {
			inst.Tasks[kind] = domain.TaskRecord{Scheduled: t.Scheduled, Result: t.Result, Error: t.Error}
		}
	}
	return inst, nil
}

// toDomain converts a database EventModel to a domain Event.
func (m *EventModel) toDomain(instanceID string) domain.Event {
	return domain.Event{
		InstanceID: instanceID,
		Seq:        m.Seq,
		Type:       m.Type,
		Payload:    m.Payload,
		RecordedAt: time.UnixMilli(m.RecordedAt),
	}
}
