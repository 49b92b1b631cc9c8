package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/task"
)

// DefaultCoolDown is the delay between the last task outcome and completion.
const DefaultCoolDown = 10 * time.Second

// maxDecideSteps bounds the events a single Decide call may emit.
const maxDecideSteps = 16

var (
	// ErrSequence is returned when an event does not directly follow the last applied one.
	ErrSequence = errors.New("event out of sequence")
	// ErrTerminal is returned when applying an event to a terminal instance.
	ErrTerminal = errors.New("instance is terminal")
	// ErrInvalidEvent is returned for events that do not fit the current state.
	ErrInvalidEvent = errors.New("invalid event for state")
)

// Config parameterizes a Machine.
type Config struct {
	CoolDown time.Duration
}

func (c Config) withDefaults() Config {
	if c.CoolDown <= 0 {
		c.CoolDown = DefaultCoolDown
	}
	return c
}

// TaskOutcome tracks one task invocation within an instance.
type TaskOutcome struct {
	Scheduled bool            `json:"scheduled"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *task.TaskError `json:"error,omitempty"`
}

// Done reports whether the task has a recorded outcome.
func (o TaskOutcome) Done() bool {
	return o.Result != nil || o.Error != nil
}

// View is a read-only copy of a machine's state.
type View struct {
	State          State
	Text           string
	StartReceived  bool
	CancelReceived bool
	Tasks          map[analysis.Kind]TaskOutcome
	Result         *analysis.AnalysisResult
	Failure        *Failure
	TimerFireAt    time.Time
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
	UpdatedAt      time.Time
	LastSeq        int64
}

// Machine is the orchestration state for one instance. It is not safe for
// concurrent use; the engine gives each instance a single owner.
type Machine struct {
	cfg Config

	seq   int64
	state State
	text  string

	startReceived  bool
	cancelReceived bool

	tasks        map[analysis.Kind]TaskOutcome
	firstFailure *task.TaskError

	timerStarted bool
	timerFireAt  time.Time
	timerFired   bool
	firedAt      time.Time

	result  *analysis.AnalysisResult
	failure *Failure

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	updatedAt   time.Time
}

// New returns an empty machine. Its first event must be instance_created.
func New(cfg Config) *Machine {
	return &Machine{
		cfg:   cfg.withDefaults(),
		tasks: make(map[analysis.Kind]TaskOutcome, len(analysis.Kinds)),
	}
}

// Replay folds history into a new machine.
func Replay(cfg Config, history []Event) (*Machine, error) {
	m := New(cfg)
	for _, ev := range history {
		if err := m.Apply(ev); err != nil {
			return nil, fmt.Errorf("replaying event %d (%s): %w", ev.Seq, ev.Type, err)
		}
	}
	return m, nil
}

// Clone returns an independent copy.
func (m *Machine) Clone() *Machine {
	cp := *m
	cp.tasks = maps.Clone(m.tasks)
	return &cp
}

// Seq returns the sequence number of the last applied event.
func (m *Machine) Seq() int64 { return m.seq }

// State returns the current state, or "" before instance_created.
func (m *Machine) State() State { return m.state }

// CoolDown returns the configured cool-down delay.
func (m *Machine) CoolDown() time.Duration { return m.cfg.CoolDown }

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() View {
	v := View{
		State:          m.state,
		Text:           m.text,
		StartReceived:  m.startReceived,
		CancelReceived: m.cancelReceived,
		Tasks:          maps.Clone(m.tasks),
		Result:         m.result,
		Failure:        m.failure,
		CreatedAt:      m.createdAt,
		StartedAt:      m.startedAt,
		CompletedAt:    m.completedAt,
		UpdatedAt:      m.updatedAt,
		LastSeq:        m.seq,
	}
	if m.timerStarted && !m.timerFired {
		v.TimerFireAt = m.timerFireAt
	}
	return v
}

// PendingTasks lists tasks that are scheduled but have no outcome. After a
// replay these are the invocations that must be dispatched again.
func (m *Machine) PendingTasks() []analysis.Kind {
	if m.state != StateRunning {
		return nil
	}
	var pending []analysis.Kind
	for _, k := range analysis.Kinds {
		if o := m.tasks[k]; o.Scheduled && !o.Done() {
			pending = append(pending, k)
		}
	}
	return pending
}

// PendingTimer returns the fire time of a started, unfired cool-down timer.
func (m *Machine) PendingTimer() (time.Time, bool) {
	if m.state != StateRunning || !m.timerStarted || m.timerFired {
		return time.Time{}, false
	}
	return m.timerFireAt, true
}

// Create returns the instance_created event that opens a new history.
func (m *Machine) Create(text string, now time.Time) (Event, error) {
	if m.seq != 0 {
		return Event{}, fmt.Errorf("%w: instance already created", ErrInvalidEvent)
	}
	return newEvent(1, EventInstanceCreated, now, CreatedPayload{Text: text})
}

// ReceiveSignal returns the event recording sig. ok is false when the
// instance is terminal and the signal is dropped.
func (m *Machine) ReceiveSignal(sig Signal, now time.Time) (ev Event, ok bool, err error) {
	if m.state == "" || m.state.IsTerminal() {
		return Event{}, false, nil
	}
	ev, err = newEvent(m.seq+1, EventSignalReceived, now, SignalPayload{Signal: sig})
	return ev, err == nil, err
}

// ReceiveOutcome returns the event recording a task's result or failure.
// ok is false when the outcome is stale: the instance is not running, the
// task was never scheduled, or it already has an outcome.
func (m *Machine) ReceiveOutcome(kind analysis.Kind, result json.RawMessage, taskErr error, now time.Time) (ev Event, ok bool, err error) {
	if m.state != StateRunning {
		return Event{}, false, nil
	}
	if o := m.tasks[kind]; !o.Scheduled || o.Done() {
		return Event{}, false, nil
	}

	if taskErr != nil {
		ev, err = newEvent(m.seq+1, EventTaskFailed, now, TaskFailedPayload{
			Task:  kind,
			Error: task.Normalize(string(kind), taskErr),
		})
	} else {
		if result == nil {
			result = json.RawMessage("null")
		}
		ev, err = newEvent(m.seq+1, EventTaskCompleted, now, TaskCompletedPayload{Task: kind, Result: result})
	}
	return ev, err == nil, err
}

// Decide returns the events the machine commits to at time now, without
// applying them. The caller persists and applies them, then performs the
// side effects of task_scheduled and timer_started.
func (m *Machine) Decide(now time.Time) ([]Event, error) {
	sim := m.Clone()
	var out []Event
	for range maxDecideSteps {
		ev, ok, err := sim.next(now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if err := sim.Apply(ev); err != nil {
			return nil, fmt.Errorf("deciding %s: %w", ev.Type, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// next computes the single next event, if any.
func (m *Machine) next(now time.Time) (Event, bool, error) {
	seq := m.seq + 1
	emit := func(typ EventType, payload any) (Event, bool, error) {
		ev, err := newEvent(seq, typ, now, payload)
		return ev, err == nil, err
	}

	switch m.state {
	case StateCreated:
		return emit(EventAwaitingSignal, nil)

	case StateAwaitingSignal:
		// Cancel wins when both signals were observed before this decision.
		switch {
		case m.cancelReceived:
			return emit(EventInstanceCancelled, FailedPayload{Failure: cancelledFailure()})
		case m.startReceived:
			return emit(EventInstanceStarted, nil)
		}
		return Event{}, false, nil

	case StateRunning:
		for _, k := range analysis.Kinds {
			if !m.tasks[k].Scheduled {
				return emit(EventTaskScheduled, TaskScheduledPayload{Task: k})
			}
		}
		for _, k := range analysis.Kinds {
			if !m.tasks[k].Done() {
				return Event{}, false, nil
			}
		}
		if m.firstFailure != nil {
			return emit(EventInstanceFailed, FailedPayload{Failure: taskFailure(m.firstFailure)})
		}

		if !m.timerStarted {
			res, err := m.aggregate(time.Time{})
			if err != nil {
				te := task.Normalize("aggregate", err)
				return emit(EventInstanceFailed, FailedPayload{Failure: taskFailure(te)})
			}
			base := now
			if latest := res.LatestTaskTimestamp(); latest.After(base) {
				base = latest
			}
			return emit(EventTimerStarted, TimerStartedPayload{FireAt: base.Add(m.cfg.CoolDown)})
		}
		if !m.timerFired {
			if now.Before(m.timerFireAt) {
				return Event{}, false, nil
			}
			return emit(EventTimerFired, TimerFiredPayload{FiredAt: now})
		}

		res, err := m.aggregate(m.firedAt)
		if err != nil {
			te := task.Normalize("aggregate", err)
			return emit(EventInstanceFailed, FailedPayload{Failure: taskFailure(te)})
		}
		return emit(EventInstanceCompleted, CompletedPayload{Result: res})
	}

	return Event{}, false, nil
}

func (m *Machine) aggregate(processedAt time.Time) (*analysis.AnalysisResult, error) {
	outputs := make(map[analysis.Kind]json.RawMessage, len(m.tasks))
	for k, o := range m.tasks {
		outputs[k] = o.Result
	}
	return analysis.Aggregate(m.text, outputs, processedAt)
}

// Apply folds one event into the machine. It either applies the event fully
// or returns an error and leaves the machine unchanged.
func (m *Machine) Apply(ev Event) error {
	if ev.Seq != m.seq+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrSequence, ev.Seq, m.seq+1)
	}
	if m.state.IsTerminal() {
		return fmt.Errorf("%w: %s rejects %s", ErrTerminal, m.state, ev.Type)
	}
	if m.state == "" && ev.Type != EventInstanceCreated {
		return fmt.Errorf("%w: %s before instance_created", ErrInvalidEvent, ev.Type)
	}

	if err := m.apply(ev); err != nil {
		return err
	}
	m.seq = ev.Seq
	m.updatedAt = ev.RecordedAt
	return nil
}

func (m *Machine) apply(ev Event) error {
	switch ev.Type {
	case EventInstanceCreated:
		if m.state != "" {
			return fmt.Errorf("%w: duplicate instance_created", ErrInvalidEvent)
		}
		p, err := decode[CreatedPayload](ev)
		if err != nil {
			return err
		}
		m.state = StateCreated
		m.text = p.Text
		m.createdAt = ev.RecordedAt

	case EventAwaitingSignal:
		return m.transition(StateAwaitingSignal)

	case EventSignalReceived:
		p, err := decode[SignalPayload](ev)
		if err != nil {
			return err
		}
		switch p.Signal {
		case SignalStart:
			m.startReceived = true
		case SignalCancel:
			m.cancelReceived = true
		default:
			return fmt.Errorf("%w: unknown signal %q", ErrInvalidEvent, p.Signal)
		}

	case EventInstanceStarted:
		if err := m.transition(StateRunning); err != nil {
			return err
		}
		m.startedAt = ev.RecordedAt

	case EventTaskScheduled:
		p, err := decode[TaskScheduledPayload](ev)
		if err != nil {
			return err
		}
		if err := m.requireRunning(ev); err != nil {
			return err
		}
		if m.tasks[p.Task].Scheduled {
			return fmt.Errorf("%w: %s already scheduled", ErrInvalidEvent, p.Task)
		}
		m.tasks[p.Task] = TaskOutcome{Scheduled: true}

	case EventTaskCompleted:
		p, err := decode[TaskCompletedPayload](ev)
		if err != nil {
			return err
		}
		if err := m.requireAwaitingOutcome(ev, p.Task); err != nil {
			return err
		}
		m.tasks[p.Task] = TaskOutcome{Scheduled: true, Result: p.Result}

	case EventTaskFailed:
		p, err := decode[TaskFailedPayload](ev)
		if err != nil {
			return err
		}
		if err := m.requireAwaitingOutcome(ev, p.Task); err != nil {
			return err
		}
		if p.Error == nil {
			p.Error = task.Errorf(task.KindInternal, "task %s failed without error detail", p.Task)
		}
		m.tasks[p.Task] = TaskOutcome{Scheduled: true, Error: p.Error}
		if m.firstFailure == nil {
			m.firstFailure = p.Error
		}

	case EventTimerStarted:
		p, err := decode[TimerStartedPayload](ev)
		if err != nil {
			return err
		}
		if err := m.requireRunning(ev); err != nil {
			return err
		}
		if m.timerStarted {
			return fmt.Errorf("%w: timer already started", ErrInvalidEvent)
		}
		m.timerStarted = true
		m.timerFireAt = p.FireAt

	case EventTimerFired:
		p, err := decode[TimerFiredPayload](ev)
		if err != nil {
			return err
		}
		if !m.timerStarted || m.timerFired {
			return fmt.Errorf("%w: no pending timer", ErrInvalidEvent)
		}
		m.timerFired = true
		m.firedAt = p.FiredAt

	case EventInstanceCompleted:
		p, err := decode[CompletedPayload](ev)
		if err != nil {
			return err
		}
		if p.Result == nil {
			return fmt.Errorf("%w: completion without result", ErrInvalidEvent)
		}
		if err := m.transition(StateCompleted); err != nil {
			return err
		}
		m.result = p.Result
		m.completedAt = ev.RecordedAt

	case EventInstanceFailed, EventInstanceCancelled:
		p, err := decode[FailedPayload](ev)
		if err != nil {
			return err
		}
		target := StateFailed
		if ev.Type == EventInstanceCancelled {
			target = StateCancelled
		}
		if err := m.transition(target); err != nil {
			return err
		}
		m.failure = p.Failure
		m.completedAt = ev.RecordedAt

	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
	}
	return nil
}

func (m *Machine) transition(target State) error {
	if !m.state.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidEvent, m.state, target)
	}
	m.state = target
	return nil
}

func (m *Machine) requireRunning(ev Event) error {
	if m.state != StateRunning {
		return fmt.Errorf("%w: %s in %s", ErrInvalidEvent, ev.Type, m.state)
	}
	return nil
}

func (m *Machine) requireAwaitingOutcome(ev Event, kind analysis.Kind) error {
	if err := m.requireRunning(ev); err != nil {
		return err
	}
	o := m.tasks[kind]
	if !o.Scheduled || o.Done() {
		return fmt.Errorf("%w: %s for %s without pending invocation", ErrInvalidEvent, ev.Type, kind)
	}
	return nil
}
