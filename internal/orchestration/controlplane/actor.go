package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

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

type messageKind int

const (
	msgSignal messageKind = iota
	msgOutcome
	msgTimer
)

// message is one mailbox entry. Signals carry an ack channel that receives
// nil once the signal is durably recorded (or dropped by a terminal instance).
type message struct {
	kind messageKind

	signal workflow.Signal
	ack    chan error

	task   analysis.Kind
	output json.RawMessage
	err    *task.TaskError
}

func (m message) reply(err error) {
	if m.ack != nil {
		m.ack <- err
	}
}

// actor is the single owner of one instance's machine. Everything that
// changes the instance arrives through its mailbox.
type actor struct {
	engine    *engine
	namespace string
	id        InstanceID
	key       string

	machine *workflow.Machine
	mailbox *queue.Mailbox[message]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// timer is only touched by the actor goroutine.
	timer clockwork.Timer
}

func newActor(e *engine, ns string, id InstanceID, m *workflow.Machine) *actor {
	ctx, cancel := context.WithCancel(context.Background())
	return &actor{
		engine:    e,
		namespace: ns,
		id:        id,
		key:       domain.Key(ns, string(id)),
		machine:   m,
		mailbox:   queue.NewMailbox[message](e.cfg.MailboxSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// run is the actor loop. resume is set for instances rebuilt from history:
// their outstanding tasks are dispatched again and pending decisions re-made.
func (a *actor) run(resume bool) {
	exitErr := error(nil)
	defer func() {
		a.stopTimer()
		a.mailbox.Close()
		for _, m := range a.mailbox.Drain() {
			m.reply(exitErr)
		}
		a.engine.retire(a)
		close(a.done)
	}()

	if resume {
		for _, kind := range a.machine.PendingTasks() {
			a.dispatch(kind)
		}
		if exitErr = a.step(nil); exitErr != nil || a.machine.State().IsTerminal() {
			return
		}
	}

	for {
		select {
		case <-a.ctx.Done():
			exitErr = ErrEngineClosed
			return
		case <-a.mailbox.Ready():
			msgs := a.mailbox.Drain()
			if len(msgs) == 0 {
				continue
			}
			if exitErr = a.step(msgs); exitErr != nil || a.machine.State().IsTerminal() {
				return
			}
		}
	}
}

// step folds a batch of messages into the machine, lets it decide, commits
// the resulting events, and performs their side effects. A non-nil error
// stops the actor and is returned to signals still queued.
func (a *actor) step(msgs []message) error {
	e := a.engine
	now := e.clock.Now()

	ctx, span := e.tracer.Start(a.ctx, tracing.SpanPrefixInstance+"decide",
		trace.WithAttributes(
			attribute.String(tracing.AttrInstanceID, string(a.id)),
			attribute.String(tracing.AttrNamespace, a.namespace),
			attribute.Int("instance.messages", len(msgs)),
		))
	defer span.End()

	next := a.machine.Clone()
	var batch []workflow.Event
	var acks []message
	var outcomeTask analysis.Kind

	for _, m := range msgs {
		var ev workflow.Event
		var ok bool
		var err error

		switch m.kind {
		case msgSignal:
			acks = append(acks, m)
			span.AddEvent(tracing.EventSignalReceived, trace.WithAttributes(
				attribute.String(tracing.AttrSignal, string(m.signal))))
			ev, ok, err = next.ReceiveSignal(m.signal, now)
		case msgOutcome:
			var taskErr error
			if m.err != nil {
				taskErr = m.err
			}
			ev, ok, err = next.ReceiveOutcome(m.task, m.output, taskErr, now)
			if ok {
				outcomeTask = m.task
			}
		case msgTimer:
			// The timer only wakes the actor; Decide below observes the clock.
			a.timer = nil
		}

		if err == nil && ok {
			err = next.Apply(ev)
		}
		if err != nil {
			return a.fault(span, fmt.Errorf("recording message: %w", err), acks)
		}
		if ok {
			batch = append(batch, ev)
		}
	}

	decided, err := next.Decide(now)
	if err != nil {
		return a.fault(span, fmt.Errorf("deciding: %w", err), acks)
	}
	for _, ev := range decided {
		if err := next.Apply(ev); err != nil {
			return a.fault(span, fmt.Errorf("applying %s: %w", ev.Type, err), acks)
		}
	}
	batch = append(batch, decided...)

	if len(batch) > 0 {
		if err := e.persist(ctx, a.namespace, a.id, next, batch); err != nil {
			if a.ctx.Err() != nil {
				// Shutdown interrupted the write; history still ends at the old machine.
				for _, m := range acks {
					m.reply(ErrEngineClosed)
				}
				return ErrEngineClosed
			}
			return a.fault(span, err, acks)
		}
	}

	a.machine = next
	for _, m := range acks {
		m.reply(nil)
	}
	span.SetAttributes(attribute.String(tracing.AttrInstanceState, string(next.State())))

	if len(batch) > 0 {
		e.publish(a.namespace, a.id, next, batch, outcomeTask, "")
		log.Debug(log.CatWorkflow, "Committed events",
			"instance", a.id,
			"namespace", a.namespace,
			"state", next.State(),
			"events", len(batch))
	}

	for _, ev := range decided {
		if ev.Type != workflow.EventTaskScheduled {
			continue
		}
		var p workflow.TaskScheduledPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return a.fault(span, fmt.Errorf("decoding task_scheduled: %w", err), nil)
		}
		a.dispatch(p.Task)
	}
	a.armTimer(span)
	return nil
}

// fault stops the actor after an unrecoverable error. The instance keeps its
// last committed history and is revived from storage on the next signal,
// wait or recovery pass.
func (a *actor) fault(span trace.Span, err error, acks []message) error {
	e := a.engine
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.ErrorErr(log.CatEngine, "Instance faulted", err, "instance", a.id, "namespace", a.namespace)

	deliveryErr := newError(KindSignalDeliveryFailed, a.id, err)
	for _, m := range acks {
		m.reply(deliveryErr)
	}

	e.faults.Add(1)
	e.broker.Publish(pubsub.TerminatedEvent, InstanceEvent{
		InstanceID: a.id,
		Namespace:  a.namespace,
		State:      a.machine.State(),
		Error:      newError(KindInternalFault, a.id, err).Error(),
		Timestamp:  e.clock.Now(),
	})
	return deliveryErr
}

// dispatch submits one task to the pool. The outcome comes back as a
// mailbox message.
func (a *actor) dispatch(kind analysis.Kind) {
	e := a.engine
	runner, ok := e.runners[kind]
	if !ok {
		a.deliver(kind, nil, task.Errorf(task.KindInternal, "no analyzer registered for %s", kind))
		return
	}

	err := e.pool.Submit(a.ctx, pool.Job{
		InstanceID: string(a.id),
		Runner:     runner,
		Input:      a.machine.Snapshot().Text,
		Done: func(res pool.Result) {
			a.deliver(kind, res.Output, res.Err)
		},
	})
	if err == nil {
		log.Debug(log.CatEngine, "Dispatched task", "instance", a.id, "task", kind)
		return
	}
	if a.ctx.Err() != nil {
		return
	}
	a.deliver(kind, nil, task.Wrap(task.KindInternal, err, "dispatching task"))
}

// deliver hands a task outcome back to the actor. It runs on pool workers,
// never on the actor goroutine.
func (a *actor) deliver(kind analysis.Kind, output json.RawMessage, taskErr *task.TaskError) {
	if err := a.post(message{kind: msgOutcome, task: kind, output: output, err: taskErr}); err != nil {
		log.ErrorErr(log.CatEngine, "Dropped task outcome", err, "instance", a.id, "task", kind)
	}
}

// post enqueues an internal message, waiting out a momentarily full mailbox.
// Signals never use it: they are rejected when the mailbox is full.
func (a *actor) post(msg message) error {
	enqueue := func() (struct{}, error) {
		err := a.mailbox.Enqueue(msg)
		if errors.Is(err, queue.ErrQueueClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(a.ctx, enqueue,
		backoff.WithBackOff(backoff.NewConstantBackOff(10*time.Millisecond)),
		backoff.WithMaxElapsedTime(0),
	)
	if errors.Is(err, queue.ErrQueueClosed) || a.ctx.Err() != nil {
		return nil
	}
	return err
}

// armTimer schedules a wake-up for a pending cool-down that has no timer yet.
// A timer that fires early simply finds Decide waiting and is re-armed.
func (a *actor) armTimer(span trace.Span) {
	fireAt, ok := a.machine.PendingTimer()
	if !ok || a.timer != nil {
		return
	}
	e := a.engine
	d := fireAt.Sub(e.clock.Now())
	span.AddEvent(tracing.EventTimerStarted, trace.WithAttributes(
		attribute.String("timer.fire_at", fireAt.UTC().Format(time.RFC3339Nano))))
	a.timer = e.clock.AfterFunc(d, func() {
		if err := a.post(message{kind: msgTimer}); err != nil {
			log.ErrorErr(log.CatEngine, "Timer wake-up not delivered", err, "instance", a.id)
		}
	})
}

func (a *actor) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
