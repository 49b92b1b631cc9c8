package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/instances/memory"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/pool"
	"github.com/zjrosen/textflow/internal/orchestration/task"
	"github.com/zjrosen/textflow/internal/orchestration/tracing"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
	"github.com/zjrosen/textflow/internal/pubsub"
)

// === Test Helpers ===

const helloText = "I love this product. It works great and the support team was wonderful."

// countingAnalyzers wraps offline analyzers and counts invocations.
type countingAnalyzers struct {
	calls atomic.Int32
}

func (c *countingAnalyzers) wrap(a analysis.Analyzers) analysis.Analyzers {
	sentiment, summary, topics := a.Sentiment, a.Summary, a.Topics
	return analysis.Analyzers{
		Sentiment: func(ctx context.Context, in string) (analysis.SentimentResult, error) {
			c.calls.Add(1)
			return sentiment(ctx, in)
		},
		Summary: func(ctx context.Context, in string) (analysis.SummaryResult, error) {
			c.calls.Add(1)
			return summary(ctx, in)
		},
		Topics: func(ctx context.Context, in string) ([]string, error) {
			c.calls.Add(1)
			return topics(ctx, in)
		},
	}
}

type testEngine struct {
	Engine
	clock *clockwork.FakeClock
	repo  domain.InstanceRepository
	calls *countingAnalyzers
}

func newFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC))
}

func newTestEngine(t *testing.T, opts ...func(*Config)) *testEngine {
	t.Helper()
	clock := newFakeClock()
	return newTestEngineWith(t, clock, memory.New(), opts...)
}

func newTestEngineWith(t *testing.T, clock *clockwork.FakeClock, repo domain.InstanceRepository, opts ...func(*Config)) *testEngine {
	t.Helper()
	calls := &countingAnalyzers{}
	cfg := Config{
		Repository: repo,
		Analyzers:  calls.wrap(analysis.Offline{Clock: clock}.Analyzers()),
		Clock:      clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return &testEngine{Engine: e, clock: clock, repo: repo, calls: calls}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// awaitCoolDown blocks until the instance's cool-down timer is armed.
func (te *testEngine) awaitCoolDown(t *testing.T) {
	t.Helper()
	require.NoError(t, te.clock.BlockUntilContext(testCtx(t), 1), "cool-down timer was never armed")
}

func (te *testEngine) waitTerminal(t *testing.T, ctx context.Context, id InstanceID) *Snapshot {
	t.Helper()
	snap, err := te.Wait(ctx, id)
	require.NoError(t, err)
	require.True(t, snap.Terminal())
	return snap
}

// === Construction ===

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Analyzers: analysis.Offline{}.Analyzers()})
	require.ErrorContains(t, err, "repository")

	_, err = New(Config{Repository: memory.New()})
	require.ErrorContains(t, err, "missing analyzers")
}

// === Create ===

func TestCreate_AwaitsSignal(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.Contains(t, string(id), IDPrefix)

	snap, err := te.Describe(ctx, id)
	require.NoError(t, err)
	require.Equal(t, workflow.StateAwaitingSignal, snap.State)
	require.Equal(t, workflow.StatusRunning, snap.Status())
	require.Equal(t, domain.DefaultNamespace, snap.Namespace)
	require.EqualValues(t, 2, snap.LastSeq)

	history, err := te.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, workflow.EventInstanceCreated, history[0].Type)
	require.Equal(t, workflow.EventAwaitingSignal, history[1].Type)
	require.Zero(t, te.calls.calls.Load(), "nothing runs before a signal")
}

func TestCreate_RejectsBlankText(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.Create(testCtx(t), CreateRequest{Text: "  \n\t"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Equal(t, KindInvalidRequest, ErrorKindOf(err))
}

func TestCreate_DuplicateID(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	_, err := te.Create(ctx, CreateRequest{ID: "doc-1", Text: helloText})
	require.NoError(t, err)
	_, err = te.Create(ctx, CreateRequest{ID: "doc-1", Text: helloText})
	require.ErrorIs(t, err, ErrAlreadyExists)

	// The same ID is free in another namespace.
	_, err = te.Create(WithNamespace(ctx, "team-b"), CreateRequest{ID: "doc-1", Text: helloText})
	require.NoError(t, err)
}

// === Happy path ===

func TestEngine_HelloWorld(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)
	start := te.clock.Now()

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalStart))

	te.awaitCoolDown(t)
	snap, err := te.Describe(ctx, id)
	require.NoError(t, err)
	require.Equal(t, workflow.StateRunning, snap.State)
	require.NotNil(t, snap.TimerFireAt)
	require.True(t, start.Add(workflow.DefaultCoolDown).Equal(*snap.TimerFireAt))

	// One second short of the cool-down nothing completes.
	te.clock.Advance(workflow.DefaultCoolDown - time.Second)
	snap, err = te.Describe(ctx, id)
	require.NoError(t, err)
	require.Equal(t, workflow.StateRunning, snap.State)

	te.clock.Advance(time.Second)
	snap = te.waitTerminal(t, ctx, id)

	require.Equal(t, workflow.StateCompleted, snap.State)
	require.NoError(t, snap.Err())
	require.NotNil(t, snap.Result)
	require.Equal(t, analysis.LabelPositive, snap.Result.Sentiment.Label)
	require.Equal(t, helloText, snap.Result.OriginalText)
	require.Equal(t, len(helloText), snap.Result.Summary.SourceLength)
	require.NotEmpty(t, snap.Result.Topics)
	require.False(t, snap.Result.ProcessedAt.Before(snap.Result.LatestTaskTimestamp().Add(workflow.DefaultCoolDown)))
	require.EqualValues(t, 3, te.calls.calls.Load())

	history, err := te.History(ctx, id)
	require.NoError(t, err)
	require.Equal(t, workflow.EventInstanceCompleted, history[len(history)-1].Type)
}

func TestEngine_CustomCoolDown(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.CoolDown = 2 * time.Second })
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalStart))

	te.awaitCoolDown(t)
	te.clock.Advance(2 * time.Second)
	require.Equal(t, workflow.StateCompleted, te.waitTerminal(t, ctx, id).State)
}

// === Cancellation ===

func TestEngine_CancelBeforeStart(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalCancel))
	require.NoError(t, te.Signal(ctx, id, workflow.SignalStart), "signals to terminal instances are dropped")

	snap := te.waitTerminal(t, ctx, id)
	require.Equal(t, workflow.StateCancelled, snap.State)
	require.Equal(t, workflow.StatusCancelled, snap.Status())
	require.ErrorIs(t, snap.Err(), workflow.ErrUserCancelled)
	require.Nil(t, snap.Result)
	require.Zero(t, te.calls.calls.Load(), "a cancelled instance dispatches nothing")
}

func TestEngine_LateCancelIsIgnored(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalStart))
	te.awaitCoolDown(t)

	require.NoError(t, te.Signal(ctx, id, workflow.SignalCancel))
	te.clock.Advance(workflow.DefaultCoolDown)

	snap := te.waitTerminal(t, ctx, id)
	require.Equal(t, workflow.StateCompleted, snap.State)
	require.True(t, snap.StartReceived)
	require.True(t, snap.CancelReceived)
}

func TestEngine_TerminalInstanceIsImmutable(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalCancel))
	before := te.waitTerminal(t, ctx, id)

	for range 3 {
		require.NoError(t, te.Signal(ctx, id, workflow.SignalStart))
		require.NoError(t, te.Signal(ctx, id, workflow.SignalCancel))
	}

	after, err := te.Describe(ctx, id)
	require.NoError(t, err)
	require.Equal(t, before.LastSeq, after.LastSeq)
	require.Equal(t, before.State, after.State)
}

// === Failures ===

func TestEngine_TaskFailureFailsInstance(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Analyzers.Summary = func(context.Context, string) (analysis.SummaryResult, error) {
			return analysis.SummaryResult{}, task.Errorf(task.KindMalformed, "unparseable reply")
		}
	})
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalStart))

	snap := te.waitTerminal(t, ctx, id)
	require.Equal(t, workflow.StateFailed, snap.State)
	require.Nil(t, snap.Result, "no partial aggregate")

	err = snap.Err()
	require.ErrorIs(t, err, ErrTaskFailure)
	var te2 *task.TaskError
	require.ErrorAs(t, err, &te2)
	require.Equal(t, task.KindMalformed, te2.Kind)
	require.Equal(t, "summary", te2.Task)
}

func TestEngine_InvalidSentimentFailsInstance(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Analyzers.Sentiment = func(context.Context, string) (analysis.SentimentResult, error) {
			return analysis.SentimentResult{Label: "MAYBE", Confidence: 1.7}, nil
		}
	})
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalStart))

	snap := te.waitTerminal(t, ctx, id)
	require.Equal(t, workflow.StateFailed, snap.State)
	require.Nil(t, snap.Result)

	var te2 *task.TaskError
	require.ErrorAs(t, snap.Err(), &te2)
	require.Equal(t, task.KindMalformed, te2.Kind)
}

func TestEngine_TaskTimeout(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Analyzers.Topics = func(ctx context.Context, _ string) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		c.PoolConfig.Policies = map[string]pool.KindPolicy{"topics": {Timeout: 20 * time.Millisecond}}
	})
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalStart))

	snap := te.waitTerminal(t, ctx, id)
	require.Equal(t, workflow.StateFailed, snap.State)
	require.ErrorIs(t, snap.Err(), ErrTaskTimeout)
	require.Equal(t, KindTaskTimeout, ErrorKindOf(snap.Err()))
}

type failingAppendRepo struct {
	domain.InstanceRepository
	appends atomic.Int32
}

func (r *failingAppendRepo) Append(context.Context, *domain.Instance, []domain.Event) error {
	r.appends.Add(1)
	return errors.New("disk full")
}

func TestEngine_PersistFailureFaultsInstance(t *testing.T) {
	repo := &failingAppendRepo{InstanceRepository: memory.New()}
	te := newTestEngineWith(t, newFakeClock(), repo, func(c *Config) { c.PersistAttempts = 2 })
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)

	err = te.Signal(ctx, id, workflow.SignalStart)
	require.ErrorIs(t, err, ErrSignalDeliveryFailed)
	require.ErrorContains(t, err, "disk full")
	require.EqualValues(t, 2, repo.appends.Load())
	require.Eventually(t, func() bool { return te.Stats().Faults == 1 }, time.Second, time.Millisecond)

	// The committed history is untouched.
	snap, err := te.Describe(ctx, id)
	require.NoError(t, err)
	require.Equal(t, workflow.StateAwaitingSignal, snap.State)
}

// === Lookup ===

func TestEngine_UnknownInstance(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	require.ErrorIs(t, te.Signal(ctx, "missing", workflow.SignalStart), ErrInstanceNotFound)

	_, err := te.Describe(ctx, "missing")
	require.ErrorIs(t, err, ErrInstanceNotFound)
	require.Equal(t, KindInstanceNotFound, ErrorKindOf(err))

	_, err = te.Wait(ctx, "missing")
	require.ErrorIs(t, err, ErrInstanceNotFound)

	_, err = te.History(ctx, "missing")
	require.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestEngine_UnknownSignal(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)
	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.ErrorIs(t, te.Signal(ctx, id, "pause"), ErrInvalidRequest)
}

func TestEngine_NamespaceIsolation(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	id, err := te.Create(WithNamespace(ctx, "team-a"), CreateRequest{Text: helloText})
	require.NoError(t, err)

	_, err = te.Describe(WithNamespace(ctx, "team-b"), id)
	require.ErrorIs(t, err, ErrInstanceNotFound)
	require.ErrorIs(t, te.Signal(ctx, id, workflow.SignalCancel), ErrInstanceNotFound)

	snap, err := te.Describe(WithNamespace(ctx, "team-a"), id)
	require.NoError(t, err)
	require.Equal(t, "team-a", snap.Namespace)
}

func TestEngine_WaitHonorsContext(t *testing.T) {
	te := newTestEngine(t)
	id, err := te.Create(testCtx(t), CreateRequest{Text: helloText})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = te.Wait(ctx, id)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_List(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	var ids []InstanceID
	for range 3 {
		id, err := te.Create(ctx, CreateRequest{Text: helloText})
		require.NoError(t, err)
		ids = append(ids, id)
		te.clock.Advance(time.Millisecond)
	}
	_, err := te.Create(WithNamespace(ctx, "other"), CreateRequest{Text: helloText})
	require.NoError(t, err)

	require.NoError(t, te.Signal(ctx, ids[1], workflow.SignalCancel))
	te.waitTerminal(t, ctx, ids[1])

	all, err := te.List(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID, "newest first")

	cancelled, err := te.List(ctx, ListQuery{States: []workflow.State{workflow.StateCancelled}})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.Equal(t, ids[1], cancelled[0].ID)

	limited, err := te.List(ctx, ListQuery{AllNamespaces: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)

	everywhere, err := te.List(ctx, ListQuery{AllNamespaces: true})
	require.NoError(t, err)
	require.Len(t, everywhere, 4)
}

// === Events ===

func TestEngine_SubscribePublishesLifecycle(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)

	events := te.Subscribe(ctx, EventFilter{})
	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalCancel))

	var got []pubsub.Event[InstanceEvent]
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-ctx.Done():
			require.FailNow(t, "missing lifecycle events")
		}
	}

	require.Equal(t, pubsub.CreatedEvent, got[0].Type)
	require.Equal(t, id, got[0].Payload.InstanceID)
	require.Equal(t, []workflow.EventType{workflow.EventInstanceCreated, workflow.EventAwaitingSignal}, got[0].Payload.Types)

	require.Equal(t, pubsub.TerminatedEvent, got[1].Type)
	require.Equal(t, workflow.StateCancelled, got[1].Payload.State)
	require.Equal(t, workflow.StatusCancelled, got[1].Payload.Status())
	require.NotEmpty(t, got[1].Payload.Error)
}

func TestEventFilter_Matches(t *testing.T) {
	ev := pubsub.Event[InstanceEvent]{
		Type:    pubsub.UpdatedEvent,
		Payload: InstanceEvent{InstanceID: "a", Namespace: "default"},
	}

	empty := EventFilter{}
	require.True(t, empty.IsEmpty())
	require.True(t, empty.Matches(ev))

	require.True(t, (&EventFilter{InstanceIDs: []InstanceID{"a", "b"}}).Matches(ev))
	require.False(t, (&EventFilter{InstanceIDs: []InstanceID{"b"}}).Matches(ev))
	require.False(t, (&EventFilter{Types: []pubsub.EventType{pubsub.TerminatedEvent}}).Matches(ev))
	require.False(t, (&EventFilter{Namespace: "team-b"}).Matches(ev))
	require.True(t, (&EventFilter{Namespace: "default", Types: []pubsub.EventType{pubsub.UpdatedEvent}}).Matches(ev))
}

// === Recovery ===

func TestRecover_ResumesPendingTimer(t *testing.T) {
	clock := newFakeClock()
	repo := memory.New()
	ctx := testCtx(t)

	first := newTestEngineWith(t, clock, repo)
	id, err := first.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, first.Signal(ctx, id, workflow.SignalStart))
	first.awaitCoolDown(t)
	clock.Advance(4 * time.Second)
	require.NoError(t, first.Shutdown(ctx))

	second := newTestEngineWith(t, clock, repo)
	resumed, err := second.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	// Only the remaining six seconds are waited.
	second.awaitCoolDown(t)
	clock.Advance(5 * time.Second)
	snap, err := second.Describe(ctx, id)
	require.NoError(t, err)
	require.Equal(t, workflow.StateRunning, snap.State)

	clock.Advance(time.Second)
	snap = second.waitTerminal(t, ctx, id)
	require.Equal(t, workflow.StateCompleted, snap.State)
	require.Zero(t, second.calls.calls.Load(), "completed tasks are never re-executed")
}

func TestRecover_RedispatchesUnfinishedTasks(t *testing.T) {
	clock := newFakeClock()
	repo := memory.New()
	ctx := testCtx(t)

	started := make(chan struct{}, 3)
	block := func(c *Config) {
		c.Analyzers.Sentiment = func(ctx context.Context, _ string) (analysis.SentimentResult, error) {
			started <- struct{}{}
			<-ctx.Done()
			return analysis.SentimentResult{}, ctx.Err()
		}
	}

	first := newTestEngineWith(t, clock, repo, block)
	id, err := first.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, first.Signal(ctx, id, workflow.SignalStart))
	<-started

	completedTasks := func() map[analysis.Kind]bool {
		history, err := first.History(ctx, id)
		require.NoError(t, err)
		done := make(map[analysis.Kind]bool)
		for _, ev := range history {
			if ev.Type != workflow.EventTaskCompleted {
				continue
			}
			var p workflow.TaskCompletedPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &p))
			done[p.Task] = true
		}
		return done
	}
	require.Eventually(t, func() bool {
		done := completedTasks()
		return done[analysis.KindSummary] && done[analysis.KindTopics]
	}, 5*time.Second, 5*time.Millisecond, "summary and topics never completed")
	require.NoError(t, first.Shutdown(ctx))
	require.False(t, completedTasks()[analysis.KindSentiment])

	second := newTestEngineWith(t, clock, repo)
	resumed, err := second.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	second.awaitCoolDown(t)
	clock.Advance(workflow.DefaultCoolDown)
	snap := second.waitTerminal(t, ctx, id)
	require.Equal(t, workflow.StateCompleted, snap.State)
	require.Equal(t, int32(1), second.calls.calls.Load(), "only the unfinished sentiment task runs again")
}

func TestRecover_SkipsTerminalInstances(t *testing.T) {
	clock := newFakeClock()
	repo := memory.New()
	ctx := testCtx(t)

	first := newTestEngineWith(t, clock, repo)
	done, err := first.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, first.Signal(ctx, done, workflow.SignalCancel))
	first.waitTerminal(t, ctx, done)
	_, err = first.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	second := newTestEngineWith(t, clock, repo)
	resumed, err := second.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, resumed)
	require.Equal(t, 1, second.Stats().LiveInstances)
}

func TestSignal_RevivesInstanceFromStorage(t *testing.T) {
	clock := newFakeClock()
	repo := memory.New()
	ctx := testCtx(t)

	first := newTestEngineWith(t, clock, repo)
	id, err := first.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	second := newTestEngineWith(t, clock, repo)
	require.NoError(t, second.Signal(ctx, id, workflow.SignalStart))
	second.awaitCoolDown(t)
	clock.Advance(workflow.DefaultCoolDown)
	require.Equal(t, workflow.StateCompleted, second.waitTerminal(t, ctx, id).State)
}

// === Lifecycle ===

func TestShutdown_RejectsNewWork(t *testing.T) {
	te := newTestEngine(t)
	ctx := testCtx(t)
	require.NoError(t, te.Shutdown(ctx))
	require.NoError(t, te.Shutdown(ctx), "idempotent")

	_, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.ErrorIs(t, err, ErrEngineClosed)
}

// === Tracing ===

func TestEngine_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	te := newTestEngine(t, func(c *Config) { c.Tracer = tp.Tracer("test") })
	ctx := testCtx(t)

	id, err := te.Create(ctx, CreateRequest{Text: helloText})
	require.NoError(t, err)
	require.NoError(t, te.Signal(ctx, id, workflow.SignalCancel))
	te.waitTerminal(t, ctx, id)

	require.Eventually(t, func() bool {
		names := map[string]bool{}
		for _, s := range exporter.GetSpans() {
			names[s.Name] = true
		}
		return names[tracing.SpanPrefixInstance+"create"] &&
			names[tracing.SpanPrefixInstance+"signal"] &&
			names[tracing.SpanPrefixInstance+"decide"] &&
			names[tracing.SpanPrefixStore+"append"]
	}, time.Second, 5*time.Millisecond)
}
