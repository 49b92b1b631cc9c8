// Package memory provides an in-memory InstanceRepository for tests and ephemeral daemons.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

type entry struct {
	inst   *domain.Instance
	events []domain.Event
}

// Repository implements domain.InstanceRepository with maps guarded by a mutex.
// Stored values are cloned on the way in and out.
type Repository struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

var _ domain.InstanceRepository = (*Repository)(nil)

// New creates an empty repository.
func New() *Repository {
	return &Repository{entries: make(map[string]*entry)}
}

// Create stores a new instance together with its first events.
func (r *Repository) Create(_ context.Context, inst *domain.Instance, events []domain.Event) error {
	if err := domain.CheckAppend(0, events); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := inst.Key()
	if _, ok := r.entries[key]; ok {
		return domain.ErrAlreadyExists
	}
	r.entries[key] = &entry{inst: inst.Clone(), events: cloneEvents(events)}
	return nil
}

// Append adds events and replaces the snapshot atomically.
func (r *Repository) Append(_ context.Context, inst *domain.Instance, events []domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[inst.Key()]
	if !ok {
		return &domain.NotFoundError{Namespace: inst.Namespace, ID: inst.ID}
	}
	if err := domain.CheckAppend(e.inst.LastSeq, events); err != nil {
		return err
	}
	e.inst = inst.Clone()
	e.events = append(e.events, cloneEvents(events)...)
	return nil
}

// Get retrieves an instance snapshot.
func (r *Repository) Get(_ context.Context, namespace, id string) (*domain.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[domain.Key(namespace, id)]
	if !ok {
		return nil, &domain.NotFoundError{Namespace: namespace, ID: id}
	}
	return e.inst.Clone(), nil
}

// Events returns the history of an instance ordered by Seq.
func (r *Repository) Events(_ context.Context, namespace, id string) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[domain.Key(namespace, id)]
	if !ok {
		return nil, &domain.NotFoundError{Namespace: namespace, ID: id}
	}
	return cloneEvents(e.events), nil
}

// List retrieves instances matching the filter, newest first.
func (r *Repository) List(_ context.Context, namespace string, filter domain.ListFilter) ([]*domain.Instance, error) {
	r.mu.RLock()
	out := make([]*domain.Instance, 0, len(r.entries))
	for _, e := range r.entries {
		if namespace != "" && e.inst.Namespace != namespace {
			continue
		}
		if !filter.Matches(e.inst) {
			continue
		}
		out = append(out, e.inst.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Instance) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (r *Repository) Close() error {
	return nil
}

func cloneEvents(events []domain.Event) []domain.Event {
	out := make([]domain.Event, len(events))
	for i, ev := range events {
		ev.Payload = slices.Clone(ev.Payload)
		out[i] = ev
	}
	return out
}
