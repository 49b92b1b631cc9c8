package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

// RepositoryFactory returns a fresh, empty repository. The factory owns cleanup.
type RepositoryFactory func(t *testing.T) domain.InstanceRepository

// RunRepositoryContract runs the behaviour every InstanceRepository must share.
func RunRepositoryContract(t *testing.T, newRepo RepositoryFactory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newRepo(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newRepo(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newRepo(t)) })
	t.Run("NamespaceIsolation", func(t *testing.T) { testNamespaceIsolation(t, newRepo(t)) })
	t.Run("AppendUpdatesSnapshot", func(t *testing.T) { testAppendUpdatesSnapshot(t, newRepo(t)) })
	t.Run("AppendSeqConflict", func(t *testing.T) { testAppendSeqConflict(t, newRepo(t)) })
	t.Run("AppendNotFound", func(t *testing.T) { testAppendNotFound(t, newRepo(t)) })
	t.Run("EventsOrdered", func(t *testing.T) { testEventsOrdered(t, newRepo(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, newRepo(t)) })
	t.Run("ConcurrentAppendsToDistinctInstances", func(t *testing.T) { testConcurrentAppends(t, newRepo(t)) })
}

func requireSameInstance(t *testing.T, want, got *domain.Instance) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Namespace, got.Namespace)
	require.Equal(t, want.State, got.State)
	require.Equal(t, want.Text, got.Text)
	require.Equal(t, want.StartReceived, got.StartReceived)
	require.Equal(t, want.CancelReceived, got.CancelReceived)
	require.Equal(t, want.LastSeq, got.LastSeq)
	require.Len(t, got.Tasks, len(want.Tasks))
	for kind, rec := range want.Tasks {
		require.Equal(t, rec.Scheduled, got.Tasks[kind].Scheduled, kind)
		require.Equal(t, string(rec.Result), string(got.Tasks[kind].Result), kind)
		require.Equal(t, string(rec.Error), string(got.Tasks[kind].Error), kind)
	}
	require.Equal(t, string(want.Result), string(got.Result))
	require.Equal(t, string(want.Failure), string(got.Failure))
	require.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)
	require.WithinDuration(t, want.UpdatedAt, got.UpdatedAt, time.Millisecond)
	requireSameTime(t, want.TimerFireAt, got.TimerFireAt)
	requireSameTime(t, want.StartedAt, got.StartedAt)
	requireSameTime(t, want.CompletedAt, got.CompletedAt)
}

func requireSameTime(t *testing.T, want, got *time.Time) {
	t.Helper()
	if want == nil {
		require.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	require.WithinDuration(t, *want, *got, time.Millisecond)
}

func testCreateAndGet(t *testing.T, repo domain.InstanceRepository) {
	created := NewBuilder(t, repo).
		WithInstance("inst-1", State("RUNNING"), Task("sentiment", `{"sentiment":"NEUTRAL"}`), Task("topics", "")).
		Build()

	got, err := repo.Get(context.Background(), domain.DefaultNamespace, "inst-1")
	require.NoError(t, err)
	requireSameInstance(t, created[0], got)
}

func testCreateDuplicate(t *testing.T, repo domain.InstanceRepository) {
	NewBuilder(t, repo).WithInstance("dup").Build()

	d := defaultInstance("dup")
	err := repo.Create(context.Background(), d.inst, NewEvents("dup", 1, 1))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func testGetNotFound(t *testing.T, repo domain.InstanceRepository) {
	_, err := repo.Get(context.Background(), domain.DefaultNamespace, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "missing", nf.ID)

	_, err = repo.Events(context.Background(), domain.DefaultNamespace, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testNamespaceIsolation(t *testing.T, repo domain.InstanceRepository) {
	NewBuilder(t, repo).
		WithInstance("same-id", Namespace("a"), Text("from a")).
		WithInstance("same-id", Namespace("b"), Text("from b")).
		Build()

	a, err := repo.Get(context.Background(), "a", "same-id")
	require.NoError(t, err)
	require.Equal(t, "from a", a.Text)

	b, err := repo.Get(context.Background(), "b", "same-id")
	require.NoError(t, err)
	require.Equal(t, "from b", b.Text)

	_, err = repo.Get(context.Background(), "c", "same-id")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testAppendUpdatesSnapshot(t *testing.T, repo domain.InstanceRepository) {
	inst := NewBuilder(t, repo).WithInstance("inst-1").Build()[0]

	next := inst.Clone()
	next.State = "COMPLETED"
	next.StartReceived = true
	next.Tasks["summary"] = domain.TaskRecord{Scheduled: true, Error: []byte(`{"kind":"TIMEOUT"}`)}
	next.Result = []byte(`{"summary":{"summary":"short"}}`)
	started := inst.CreatedAt.Add(time.Second)
	completed := inst.CreatedAt.Add(11 * time.Second)
	next.StartedAt = &started
	next.CompletedAt = &completed
	next.UpdatedAt = completed
	next.LastSeq = inst.LastSeq + 3

	require.NoError(t, repo.Append(context.Background(), next, NewEvents("inst-1", inst.LastSeq+1, 3)))

	got, err := repo.Get(context.Background(), domain.DefaultNamespace, "inst-1")
	require.NoError(t, err)
	requireSameInstance(t, next, got)

	events, err := repo.Events(context.Background(), domain.DefaultNamespace, "inst-1")
	require.NoError(t, err)
	require.Len(t, events, int(next.LastSeq))
}

func testAppendSeqConflict(t *testing.T, repo domain.InstanceRepository) {
	inst := NewBuilder(t, repo).WithInstance("inst-1", Events(2)).Build()[0]

	stale := inst.Clone()
	stale.State = "CANCELLED"
	stale.LastSeq = 2
	err := repo.Append(context.Background(), stale, NewEvents("inst-1", 2, 1))
	require.ErrorIs(t, err, domain.ErrSeqConflict)

	got, err := repo.Get(context.Background(), domain.DefaultNamespace, "inst-1")
	require.NoError(t, err)
	require.Equal(t, inst.State, got.State, "a rejected append must not touch the snapshot")

	events, err := repo.Events(context.Background(), domain.DefaultNamespace, "inst-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func testAppendNotFound(t *testing.T, repo domain.InstanceRepository) {
	d := defaultInstance("ghost")
	d.inst.LastSeq = 1
	err := repo.Append(context.Background(), d.inst, NewEvents("ghost", 1, 1))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testEventsOrdered(t *testing.T, repo domain.InstanceRepository) {
	inst := NewBuilder(t, repo).WithInstance("inst-1", Events(3)).Build()[0]
	for i := range 4 {
		next := inst.Clone()
		next.LastSeq = inst.LastSeq + 2
		require.NoError(t, repo.Append(context.Background(), next, NewEvents("inst-1", inst.LastSeq+1, 2)), "append %d", i)
		inst = next
	}

	events, err := repo.Events(context.Background(), domain.DefaultNamespace, "inst-1")
	require.NoError(t, err)
	require.Len(t, events, 11)
	for i, ev := range events {
		require.Equal(t, int64(i+1), ev.Seq)
		require.Equal(t, "inst-1", ev.InstanceID)
		require.Equal(t, "test_event", ev.Type)
		require.NotEmpty(t, ev.Payload)
	}
}

func ids(instances []*domain.Instance) []string {
	out := make([]string, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.ID)
	}
	return out
}

func testListFilters(t *testing.T, repo domain.InstanceRepository) {
	NewBuilder(t, repo).WithStandardTestData().Build()
	ctx := context.Background()

	all, err := repo.List(ctx, "", domain.ListFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"running-2", "cancelled-1", "failed-1", "completed-1", "running-1", "awaiting-1"}, ids(all))

	def, err := repo.List(ctx, domain.DefaultNamespace, domain.ListFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"failed-1", "completed-1", "running-1", "awaiting-1"}, ids(def))

	live, err := repo.List(ctx, "", domain.ListFilter{States: []string{"AWAITING_SIGNAL", "RUNNING"}})
	require.NoError(t, err)
	require.Equal(t, []string{"running-2", "running-1", "awaiting-1"}, ids(live))

	limited, err := repo.List(ctx, "", domain.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"running-2", "cancelled-1"}, ids(limited))

	none, err := repo.List(ctx, "nobody", domain.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, none)
}

func testConcurrentAppends(t *testing.T, repo domain.InstanceRepository) {
	b := NewBuilder(t, repo)
	for _, id := range []string{"c-1", "c-2", "c-3", "c-4"} {
		b.WithInstance(id, Events(1))
	}
	created := b.Build()

	var wg sync.WaitGroup
	errs := make(chan error, len(created)*5)
	for _, inst := range created {
		wg.Add(1)
		go func(inst *domain.Instance) {
			defer wg.Done()
			for range 5 {
				next := inst.Clone()
				next.LastSeq++
				if err := repo.Append(context.Background(), next, NewEvents(inst.ID, next.LastSeq, 1)); err != nil {
					errs <- err
					return
				}
				inst = next
			}
		}(inst)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, inst := range created {
		got, err := repo.Get(context.Background(), domain.DefaultNamespace, inst.ID)
		require.NoError(t, err)
		require.Equal(t, int64(6), got.LastSeq)
	}
}
