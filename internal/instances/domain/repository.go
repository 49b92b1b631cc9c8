package domain

import "context"

// ListFilter provides filtering options for listing instances.
type ListFilter struct {
	// States restricts results to instances in one of these states.
	// If empty, all states are included.
	States []string

	// Limit restricts the number of instances returned.
	// If 0, no limit is applied.
	Limit int
}

// Matches reports whether inst passes the state filter.
func (f ListFilter) Matches(inst *Instance) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if inst.State == s {
			return true
		}
	}
	return false
}

// InstanceRepository defines the persistence interface for instances and their history.
// Implementations may use SQLite, Badger, or in-memory storage.
type InstanceRepository interface {
	// Create stores a new instance together with its first events.
	// Returns ErrAlreadyExists if the namespace already holds the ID.
	Create(ctx context.Context, inst *Instance, events []Event) error

	// Append adds events to an instance's history and replaces its snapshot in one
	// atomic step. The stored LastSeq must equal events[0].Seq-1, otherwise
	// ErrSeqConflict is returned and nothing is written.
	Append(ctx context.Context, inst *Instance, events []Event) error

	// Get retrieves an instance snapshot.
	// Returns a NotFoundError if no matching instance exists.
	Get(ctx context.Context, namespace, id string) (*Instance, error)

	// Events returns the full history of an instance ordered by Seq.
	// Returns a NotFoundError if no matching instance exists.
	Events(ctx context.Context, namespace, id string) ([]Event, error)

	// List retrieves instances matching the filter, newest first.
	// An empty namespace lists every namespace.
	List(ctx context.Context, namespace string, filter ListFilter) ([]*Instance, error)

	// Close releases any resources held by the repository.
	Close() error
}

// CheckAppend validates an append against the currently stored LastSeq.
func CheckAppend(storedSeq int64, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if events[0].Seq != storedSeq+1 {
		return &SeqConflictError{Expected: storedSeq + 1, Got: events[0].Seq}
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			return &SeqConflictError{Expected: events[i-1].Seq + 1, Got: events[i].Seq}
		}
	}
	return nil
}
