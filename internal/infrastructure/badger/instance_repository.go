package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

// instanceRecord is the stored form of an instance snapshot. The queried fields
// are lifted to the top level so badgerhold can filter and sort on them.
type instanceRecord struct {
	Key         string
	Namespace   string
	ID          string
	State       string
	CreatedAtMs int64
	Instance    domain.Instance
}

// eventRecord is the stored form of one history entry.
type eventRecord struct {
	InstanceKey string
	Seq         int64
	Event       domain.Event
}

func toInstanceRecord(inst *domain.Instance) *instanceRecord {
	return &instanceRecord{
		Key:         inst.Key(),
		Namespace:   inst.Namespace,
		ID:          inst.ID,
		State:       inst.State,
		CreatedAtMs: inst.CreatedAt.UnixMilli(),
		Instance:    *inst.Clone(),
	}
}

func (r *instanceRecord) toDomain() *domain.Instance {
	inst := r.Instance.Clone()
	if inst.Tasks == nil {
		inst.Tasks = map[string]domain.TaskRecord{}
	}
	return inst
}

func eventKey(instanceKey string, seq int64) string {
	return fmt.Sprintf("%s#%020d", instanceKey, seq)
}

// instanceRepository implements domain.InstanceRepository using badgerhold.
type instanceRepository struct {
	db *Store
}

func newInstanceRepository(db *Store) *instanceRepository {
	return &instanceRepository{db: db}
}

var _ domain.InstanceRepository = (*instanceRepository)(nil)

// Create stores a new instance together with its first events.
func (r *instanceRepository) Create(_ context.Context, inst *domain.Instance, events []domain.Event) error {
	if err := domain.CheckAppend(0, events); err != nil {
		return err
	}
	store := r.db.Hold()
	rec := toInstanceRecord(inst)

	err := store.Badger().Update(func(tx *badgerdb.Txn) error {
		if err := store.TxInsert(tx, rec.Key, rec); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return domain.ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert instance: %w", err)
		}
		return insertEvents(store, tx, rec.Key, events)
	})
	return err
}

// Append adds events and replaces the snapshot in one transaction.
func (r *instanceRepository) Append(_ context.Context, inst *domain.Instance, events []domain.Event) error {
	store := r.db.Hold()
	rec := toInstanceRecord(inst)

	return store.Badger().Update(func(tx *badgerdb.Txn) error {
		var stored instanceRecord
		if err := store.TxGet(tx, rec.Key, &stored); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return &domain.NotFoundError{Namespace: inst.Namespace, ID: inst.ID}
			}
			return fmt.Errorf("failed to load instance: %w", err)
		}
		if err := domain.CheckAppend(stored.Instance.LastSeq, events); err != nil {
			return err
		}
		if err := insertEvents(store, tx, rec.Key, events); err != nil {
			return err
		}
		if err := store.TxUpsert(tx, rec.Key, rec); err != nil {
			return fmt.Errorf("failed to update instance: %w", err)
		}
		return nil
	})
}

func insertEvents(store *badgerhold.Store, tx *badgerdb.Txn, instanceKey string, events []domain.Event) error {
	for _, ev := range events {
		rec := &eventRecord{InstanceKey: instanceKey, Seq: ev.Seq, Event: ev}
		if err := store.TxInsert(tx, eventKey(instanceKey, ev.Seq), rec); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// Get retrieves an instance snapshot.
func (r *instanceRepository) Get(_ context.Context, namespace, id string) (*domain.Instance, error) {
	var rec instanceRecord
	err := r.db.Hold().Get(domain.Key(namespace, id), &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, &domain.NotFoundError{Namespace: namespace, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return rec.toDomain(), nil
}

// Events returns the history of an instance ordered by Seq.
func (r *instanceRepository) Events(ctx context.Context, namespace, id string) ([]domain.Event, error) {
	if _, err := r.Get(ctx, namespace, id); err != nil {
		return nil, err
	}

	var recs []eventRecord
	query := badgerhold.Where("InstanceKey").Eq(domain.Key(namespace, id)).SortBy("Seq")
	if err := r.db.Hold().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}

	events := make([]domain.Event, 0, len(recs))
	for _, rec := range recs {
		events = append(events, rec.Event)
	}
	return events, nil
}

// List retrieves instances matching the filter, newest first.
func (r *instanceRepository) List(_ context.Context, namespace string, filter domain.ListFilter) ([]*domain.Instance, error) {
	query := badgerhold.Where("ID").Ne("") // Select all
	if namespace != "" {
		query = query.And("Namespace").Eq(namespace)
	}
	if len(filter.States) > 0 {
		states := make([]any, 0, len(filter.States))
		for _, s := range filter.States {
			states = append(states, s)
		}
		query = query.And("State").In(states...)
	}
	query = query.SortBy("CreatedAtMs", "ID").Reverse()
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var recs []instanceRecord
	if err := r.db.Hold().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	out := make([]*domain.Instance, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toDomain())
	}
	return out, nil
}

// Close closes the underlying store.
func (r *instanceRepository) Close() error {
	return r.db.Close()
}
