// Package domain provides the persistence model for analysis instances with no
// infrastructure dependencies.
//
// An Instance is the materialized snapshot of an instance's history; Events are
// the append-only history itself. Repositories store both and keep them in step:
// every Append writes the new events and the refreshed snapshot atomically.
package domain

import (
	"maps"
	"time"
)

// DefaultNamespace is used when a caller does not name one.
const DefaultNamespace = "default"

// TaskRecord is the persisted outcome of one analysis task.
// Result and Error hold JSON documents; at most one is set.
type TaskRecord struct {
	Scheduled bool
	Result    []byte
	Error     []byte
}

// Instance is the snapshot of a single analysis instance.
type Instance struct {
	ID        string
	Namespace string
	State     string
	Text      string

	StartReceived  bool
	CancelReceived bool

	// Tasks is keyed by task kind.
	Tasks map[string]TaskRecord

	// Result is the JSON aggregate once completed; Failure the JSON cause once failed
	// or cancelled.
	Result  []byte
	Failure []byte

	// TimerFireAt is set while a cool-down is pending.
	TimerFireAt *time.Time

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time

	// LastSeq is the sequence number of the newest event folded into the snapshot.
	LastSeq int64
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Tasks = maps.Clone(i.Tasks)
	c.Result = cloneBytes(i.Result)
	c.Failure = cloneBytes(i.Failure)
	c.TimerFireAt = cloneTime(i.TimerFireAt)
	c.StartedAt = cloneTime(i.StartedAt)
	c.CompletedAt = cloneTime(i.CompletedAt)
	return &c
}

// Key returns the namespace-qualified identity of the instance.
func (i *Instance) Key() string {
	return Key(i.Namespace, i.ID)
}

// Key joins a namespace and an instance ID.
func Key(namespace, id string) string {
	return namespace + "/" + id
}

// Event is one entry of an instance's history.
type Event struct {
	InstanceID string
	Seq        int64
	Type       string
	Payload    []byte
	RecordedAt time.Time
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
