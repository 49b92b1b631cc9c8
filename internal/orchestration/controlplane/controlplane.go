package controlplane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zjrosen/textflow/internal/cachemanager"
	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/log"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/pool"
	"github.com/zjrosen/textflow/internal/orchestration/queue"
	"github.com/zjrosen/textflow/internal/orchestration/task"
	"github.com/zjrosen/textflow/internal/orchestration/tracing"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
	"github.com/zjrosen/textflow/internal/pubsub"
)

// Defaults for Config.
const (
	DefaultMailboxSize     = 64
	DefaultPersistAttempts = 5
	DefaultRecoveryWorkers = 8
	DefaultCacheTTL        = 10 * time.Minute
)

// Engine runs analysis instances.
type Engine interface {
	// Create persists a new instance in AWAITING_SIGNAL and starts its actor.
	Create(ctx context.Context, req CreateRequest) (InstanceID, error)
	// Signal delivers a signal and returns once it is durably recorded.
	// Signals to terminal instances are dropped without error.
	Signal(ctx context.Context, id InstanceID, sig workflow.Signal) error
	// Describe returns the last committed snapshot.
	Describe(ctx context.Context, id InstanceID) (*Snapshot, error)
	// Wait blocks until the instance is terminal or ctx is done.
	Wait(ctx context.Context, id InstanceID) (*Snapshot, error)
	// List returns snapshots newest first.
	List(ctx context.Context, q ListQuery) ([]*Snapshot, error)
	// History returns the instance's events in sequence order.
	History(ctx context.Context, id InstanceID) ([]workflow.Event, error)
	// Subscribe streams lifecycle events until ctx is done.
	Subscribe(ctx context.Context, filter EventFilter) <-chan pubsub.Event[InstanceEvent]
	// Recover resumes every non-terminal instance found in storage.
	Recover(ctx context.Context) (int, error)
	// Stats returns engine counters.
	Stats() Stats
	// Shutdown stops all actors and the worker pool.
	Shutdown(ctx context.Context) error
}

// Config holds the engine's collaborators and tuning.
type Config struct {
	Repository domain.InstanceRepository
	Analyzers  analysis.Analyzers
	// Pool executes tasks. When nil the engine creates one from PoolConfig and
	// closes it on Shutdown.
	Pool       *pool.WorkerPool
	PoolConfig pool.Config
	Clock      clockwork.Clock
	Tracer     trace.Tracer
	// CoolDown is the delay before completion; defaults to workflow.DefaultCoolDown.
	CoolDown time.Duration
	// MailboxSize bounds queued messages per instance.
	MailboxSize int
	// PersistAttempts bounds retries of a failed history append.
	PersistAttempts int
	// RecoveryWorkers bounds concurrent replays during Recover.
	RecoveryWorkers int
	// CacheTTL is how long terminal snapshots stay cached; negative disables caching.
	CacheTTL time.Duration
}

// Stats are engine counters.
type Stats struct {
	LiveInstances int        `json:"live_instances"`
	Faults        uint64     `json:"faults"`
	DroppedEvents uint64     `json:"dropped_events"`
	Pool          pool.Stats `json:"pool"`
}

type snapshotKey string

type describeInput struct {
	namespace string
	id        InstanceID
}

type engine struct {
	cfg       Config
	repo      domain.InstanceRepository
	pool      *pool.WorkerPool
	ownsPool  bool
	runners   map[analysis.Kind]task.Runner
	clock     clockwork.Clock
	tracer    trace.Tracer
	broker    *pubsub.Broker[InstanceEvent]
	snapshots *cachemanager.ReadThroughCache[snapshotKey, *Snapshot, describeInput]
	revivals  singleflight.Group

	mu     sync.Mutex
	live   map[string]*actor
	closed bool
	wg     sync.WaitGroup

	faults atomic.Uint64
}

var _ Engine = (*engine)(nil)

// New validates cfg and returns a running engine. Call Recover to resume
// instances left unfinished by a previous process.
func New(cfg Config) (Engine, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("engine requires a repository")
	}
	if err := cfg.Analyzers.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = workflow.DefaultCoolDown
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = DefaultPersistAttempts
	}
	if cfg.RecoveryWorkers <= 0 {
		cfg.RecoveryWorkers = DefaultRecoveryWorkers
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	e := &engine{
		cfg:     cfg,
		repo:    cfg.Repository,
		pool:    cfg.Pool,
		runners: cfg.Analyzers.Runners(),
		clock:   cfg.Clock,
		tracer:  cfg.Tracer,
		broker:  pubsub.NewBrokerWithBuffer[InstanceEvent](256),
		live:    make(map[string]*actor),
	}
	if e.pool == nil {
		pc := cfg.PoolConfig
		if pc.Tracer == nil {
			pc.Tracer = cfg.Tracer
		}
		e.pool = pool.NewWorkerPool(pc)
		e.ownsPool = true
	}

	cache := cachemanager.NewInMemoryCacheManager[snapshotKey, *Snapshot]("snapshots", cfg.CacheTTL, cachemanager.DefaultCleanupInterval)
	e.snapshots = cachemanager.NewReadThroughCache(cache, e.load, cfg.CacheTTL < 0).
		CacheIf(func(s *Snapshot) bool { return s.Terminal() })

	log.Info(log.CatEngine, "Engine started",
		"coolDown", cfg.CoolDown,
		"workers", e.pool.MaxWorkers(),
		"mailboxSize", cfg.MailboxSize)
	return e, nil
}

func (e *engine) machineConfig() workflow.Config {
	return workflow.Config{CoolDown: e.cfg.CoolDown}
}

// Create persists the instance's opening history and starts its actor.
func (e *engine) Create(ctx context.Context, req CreateRequest) (InstanceID, error) {
	if err := req.Validate(); err != nil {
		return "", newError(KindInvalidRequest, req.ID, err)
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", ErrEngineClosed
	}

	ns := NamespaceFromContext(ctx)
	id := req.ID
	if id == "" {
		id = NewInstanceID(e.clock)
	}

	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixInstance+"create",
		trace.WithAttributes(
			attribute.String(tracing.AttrInstanceID, string(id)),
			attribute.String(tracing.AttrNamespace, ns),
		))
	defer span.End()

	now := e.clock.Now()
	m := workflow.New(e.machineConfig())
	created, err := m.Create(req.Text, now)
	if err == nil {
		err = m.Apply(created)
	}
	var decided []workflow.Event
	if err == nil {
		decided, err = m.Decide(now)
	}
	for i := 0; err == nil && i < len(decided); i++ {
		err = m.Apply(decided[i])
	}
	if err != nil {
		return "", e.spanError(span, newError(KindInternalFault, id, err))
	}
	history := append([]workflow.Event{created}, decided...)

	inst, err := instanceFromView(ns, id, m.Snapshot())
	if err != nil {
		return "", e.spanError(span, newError(KindInternalFault, id, err))
	}
	if err := e.repo.Create(ctx, inst, toDomainEvents(id, history)); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return "", e.spanError(span, newError(KindAlreadyExists, id, nil))
		}
		return "", e.spanError(span, newError(KindInternalFault, id, err))
	}

	if _, err := e.spawn(ns, id, m, false); err != nil {
		return "", e.spanError(span, err)
	}
	e.publish(ns, id, m, history, "", "")

	log.Info(log.CatEngine, "Instance created", "instance", id, "namespace", ns, "textLength", len(req.Text))
	return id, nil
}

// Signal routes sig to the instance's actor, reviving it from storage when
// it is not live.
func (e *engine) Signal(ctx context.Context, id InstanceID, sig workflow.Signal) error {
	ns := NamespaceFromContext(ctx)
	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixInstance+"signal",
		trace.WithAttributes(
			attribute.String(tracing.AttrInstanceID, string(id)),
			attribute.String(tracing.AttrNamespace, ns),
			attribute.String(tracing.AttrSignal, string(sig)),
		))
	defer span.End()

	if _, err := workflow.ParseSignal(string(sig)); err != nil {
		return e.spanError(span, newError(KindInvalidRequest, id, err))
	}

	// A closed mailbox means the actor is stopping; the second pass sees the
	// instance as terminal or revives it.
	for range 2 {
		a, err := e.actorFor(ctx, ns, id)
		if err != nil {
			return e.spanError(span, err)
		}
		if a == nil {
			log.Debug(log.CatEngine, "Signal to terminal instance dropped", "instance", id, "signal", sig)
			return nil
		}

		// Room is kept for the task outcomes and timer wake-up.
		if a.mailbox.Len() >= max(e.cfg.MailboxSize-len(analysis.Kinds)-1, 1) {
			return e.spanError(span, newError(KindSignalDeliveryFailed, id, queue.ErrQueueFull))
		}
		ack := make(chan error, 1)
		err = a.mailbox.Enqueue(message{kind: msgSignal, signal: sig, ack: ack})
		switch {
		case errors.Is(err, queue.ErrQueueClosed):
			select {
			case <-a.done:
				continue
			case <-ctx.Done():
				return e.spanError(span, newError(KindSignalDeliveryFailed, id, ctx.Err()))
			}
		case err != nil:
			return e.spanError(span, newError(KindSignalDeliveryFailed, id, err))
		}

		select {
		case err := <-ack:
			if err != nil {
				return e.spanError(span, err)
			}
			log.Debug(log.CatEngine, "Signal recorded", "instance", id, "signal", sig)
			return nil
		case <-ctx.Done():
			return e.spanError(span, newError(KindSignalDeliveryFailed, id, ctx.Err()))
		}
	}
	return e.spanError(span, newError(KindSignalDeliveryFailed, id, errors.New("instance actor kept stopping")))
}

// Describe returns the committed snapshot, served from cache once terminal.
func (e *engine) Describe(ctx context.Context, id InstanceID) (*Snapshot, error) {
	ns := NamespaceFromContext(ctx)
	key := snapshotKey(domain.Key(ns, string(id)))
	return e.snapshots.Get(ctx, key, describeInput{namespace: ns, id: id}, e.cfg.CacheTTL)
}

func (e *engine) load(ctx context.Context, in describeInput) (*Snapshot, error) {
	inst, err := e.repo.Get(ctx, in.namespace, string(in.id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound(in.id)
		}
		return nil, newError(KindInternalFault, in.id, err)
	}
	snap, err := snapshotFromInstance(inst)
	if err != nil {
		return nil, newError(KindInternalFault, in.id, err)
	}
	return snap, nil
}

// Wait blocks until the instance is terminal. An instance whose actor
// faulted returns an INTERNAL_FAULT error.
func (e *engine) Wait(ctx context.Context, id InstanceID) (*Snapshot, error) {
	ns := NamespaceFromContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := e.broker.SubscribeFiltered(ctx, func(ev pubsub.Event[InstanceEvent]) bool {
		f := EventFilter{
			Types:       []pubsub.EventType{pubsub.TerminatedEvent},
			InstanceIDs: []InstanceID{id},
			Namespace:   ns,
		}
		return f.Matches(ev)
	})

	snap, err := e.Describe(ctx, id)
	if err != nil || snap.Terminal() {
		return snap, err
	}
	// Make sure someone is driving the instance.
	if _, err := e.actorFor(ctx, ns, id); err != nil {
		return nil, err
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return e.waitExpired(ctx, id)
				}
				return nil, ErrEngineClosed
			}
			if ev.Payload.Error != "" && !ev.Payload.State.IsTerminal() {
				return nil, newError(KindInternalFault, id, errors.New(ev.Payload.Error))
			}
			return e.Describe(ctx, id)
		case <-ctx.Done():
			return e.waitExpired(ctx, id)
		}
	}
}

// waitExpired reports a terminal snapshot committed just before ctx ended,
// and ctx's error otherwise.
func (e *engine) waitExpired(ctx context.Context, id InstanceID) (*Snapshot, error) {
	if snap, err := e.Describe(context.WithoutCancel(ctx), id); err == nil && snap.Terminal() {
		return snap, nil
	}
	return nil, ctx.Err()
}

// List returns persisted snapshots matching q.
func (e *engine) List(ctx context.Context, q ListQuery) ([]*Snapshot, error) {
	ns := q.Namespace
	if ns == "" && !q.AllNamespaces {
		ns = NamespaceFromContext(ctx)
	}
	if q.AllNamespaces {
		ns = ""
	}
	filter := domain.ListFilter{Limit: q.Limit}
	for _, s := range q.States {
		filter.States = append(filter.States, string(s))
	}

	insts, err := e.repo.List(ctx, ns, filter)
	if err != nil {
		return nil, newError(KindInternalFault, "", err)
	}
	out := make([]*Snapshot, 0, len(insts))
	for _, inst := range insts {
		snap, err := snapshotFromInstance(inst)
		if err != nil {
			return nil, newError(KindInternalFault, InstanceID(inst.ID), err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// History returns the instance's persisted events.
func (e *engine) History(ctx context.Context, id InstanceID) ([]workflow.Event, error) {
	events, err := e.repo.Events(ctx, NamespaceFromContext(ctx), string(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, newError(KindInternalFault, id, err)
	}
	return fromDomainEvents(events), nil
}

// Subscribe streams lifecycle events matching filter.
func (e *engine) Subscribe(ctx context.Context, filter EventFilter) <-chan pubsub.Event[InstanceEvent] {
	if filter.IsEmpty() {
		return e.broker.Subscribe(ctx)
	}
	return e.broker.SubscribeFiltered(ctx, filter.Matches)
}

// Recover replays every non-terminal instance and restarts its actor.
// It returns the number of instances resumed; per-instance failures are
// joined into the returned error without stopping the others.
func (e *engine) Recover(ctx context.Context) (int, error) {
	insts, err := e.repo.List(ctx, "", domain.ListFilter{States: []string{
		string(workflow.StateCreated),
		string(workflow.StateAwaitingSignal),
		string(workflow.StateRunning),
	}})
	if err != nil {
		return 0, fmt.Errorf("listing unfinished instances: %w", err)
	}

	var (
		mu      sync.Mutex
		errs    []error
		resumed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.RecoveryWorkers)
	for _, inst := range insts {
		g.Go(func() error {
			a, err := e.actorFor(gctx, inst.Namespace, InstanceID(inst.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("recovering %s: %w", domain.Key(inst.Namespace, inst.ID), err))
			case a != nil:
				resumed++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info(log.CatEngine, "Recovery finished", "found", len(insts), "resumed", resumed, "failed", len(errs))
	return resumed, errors.Join(errs...)
}

// Stats returns engine counters.
func (e *engine) Stats() Stats {
	e.mu.Lock()
	live := len(e.live)
	e.mu.Unlock()
	return Stats{
		LiveInstances: live,
		Faults:        e.faults.Load(),
		DroppedEvents: e.broker.Dropped(),
		Pool:          e.pool.Stats(),
	}
}

// Shutdown stops every actor, then the pool. Persisted history is left as is;
// Recover in the next process resumes from it.
func (e *engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	actors := make([]*actor, 0, len(e.live))
	for _, a := range e.live {
		actors = append(actors, a)
	}
	e.mu.Unlock()

	for _, a := range actors {
		a.cancel()
	}

	stopped := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(stopped)
	}()
	var err error
	select {
	case <-stopped:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for actors: %w", ctx.Err())
	}

	if e.ownsPool {
		e.pool.Close()
	}
	e.broker.Close()
	log.Info(log.CatEngine, "Engine stopped", "actors", len(actors))
	return err
}

// actorFor returns the live actor for an instance, replaying it from storage
// if needed. It returns nil without error for terminal instances.
func (e *engine) actorFor(ctx context.Context, ns string, id InstanceID) (*actor, error) {
	key := domain.Key(ns, string(id))
	e.mu.Lock()
	if a, ok := e.live[key]; ok {
		e.mu.Unlock()
		return a, nil
	}
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}

	v, err, _ := e.revivals.Do(key, func() (any, error) {
		events, err := e.repo.Events(ctx, ns, string(id))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, notFound(id)
			}
			return nil, newError(KindInternalFault, id, err)
		}
		m, err := workflow.Replay(e.machineConfig(), fromDomainEvents(events))
		if err != nil {
			return nil, newError(KindInternalFault, id, err)
		}
		if m.State().IsTerminal() {
			return (*actor)(nil), nil
		}
		log.Info(log.CatEngine, "Resuming instance",
			"instance", id,
			"namespace", ns,
			"state", m.State(),
			"pendingTasks", len(m.PendingTasks()))
		return e.spawn(ns, id, m, true)
	})
	if err != nil {
		return nil, err
	}
	return v.(*actor), nil
}

// spawn registers and starts an actor, returning the existing one if the
// instance is already live.
func (e *engine) spawn(ns string, id InstanceID, m *workflow.Machine, resume bool) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if existing, ok := e.live[domain.Key(ns, string(id))]; ok {
		return existing, nil
	}
	a := newActor(e, ns, id, m)
	e.live[a.key] = a
	e.wg.Add(1)
	log.SafeGo("actor-"+string(id), func() {
		defer e.wg.Done()
		a.run(resume)
	})
	return a, nil
}

func (e *engine) retire(a *actor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live[a.key] == a {
		delete(e.live, a.key)
	}
}

// persist appends batch and the refreshed snapshot, retrying transient
// storage errors. A sequence conflict is permanent.
func (e *engine) persist(ctx context.Context, ns string, id InstanceID, m *workflow.Machine, batch []workflow.Event) error {
	ctx, span := e.tracer.Start(ctx, tracing.SpanPrefixStore+"append",
		trace.WithAttributes(
			attribute.String(tracing.AttrInstanceID, string(id)),
			attribute.Int("store.events", len(batch)),
		))
	defer span.End()

	inst, err := instanceFromView(ns, id, m.Snapshot())
	if err != nil {
		return e.spanError(span, err)
	}
	events := toDomainEvents(id, batch)

	attempts := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := e.repo.Append(ctx, inst, events)
		if errors.Is(err, domain.ErrSeqConflict) || errors.Is(err, domain.ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(e.cfg.PersistAttempts)),
	)
	if err != nil {
		return e.spanError(span, fmt.Errorf("appending %d events after %d attempts: %w", len(batch), attempts, err))
	}
	span.AddEvent(tracing.EventEventsAppended, trace.WithAttributes(attribute.Int64("store.last_seq", m.Seq())))
	return nil
}

// publish announces a committed batch.
func (e *engine) publish(ns string, id InstanceID, m *workflow.Machine, batch []workflow.Event, kind analysis.Kind, errMsg string) {
	state := m.State()
	ev := eventFromBatch(ns, id, state, batch, e.clock.Now())
	ev.Task = kind
	ev.Error = errMsg
	if f := m.Snapshot().Failure; f != nil && errMsg == "" {
		ev.Error = f.Message
	}
	e.broker.Publish(pubsubType(state, batch), ev)
	if state.IsTerminal() {
		log.Info(log.CatEngine, "Instance finished", "instance", id, "namespace", ns, "status", state.Status())
	}
}

func (e *engine) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
