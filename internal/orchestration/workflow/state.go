// Package workflow implements the text-analysis orchestration as a pure,
// replay-safe state machine.
//
// A Machine is folded from an append-only event history with Apply and asked
// for its next events with Decide. It performs no I/O, reads no clock and
// starts no goroutines: the caller supplies the time and executes the side
// effects that task_scheduled and timer_started events describe. Replaying
// the same history through Apply always reaches the same state.
package workflow

import "fmt"

// State is the lifecycle state of an orchestration instance.
// Valid transitions:
//
//	Created        -> AwaitingSignal
//	AwaitingSignal -> Running, Cancelled
//	Running        -> Completed, Failed
//	Completed      -> (terminal)
//	Failed         -> (terminal)
//	Cancelled      -> (terminal)
type State string

const (
	StateCreated        State = "CREATED"
	StateAwaitingSignal State = "AWAITING_SIGNAL"
	StateRunning        State = "RUNNING"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
	StateCancelled      State = "CANCELLED"
)

var validTransitions = map[State]map[State]bool{
	StateCreated: {
		StateAwaitingSignal: true,
	},
	StateAwaitingSignal: {
		StateRunning:   true,
		StateCancelled: true,
	},
	StateRunning: {
		StateCompleted: true,
		StateFailed:    true,
	},
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateCreated, StateAwaitingSignal, StateRunning,
	StateCompleted, StateFailed, StateCancelled,
}

func (s State) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized State value.
func (s State) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true for Completed, Failed and Cancelled.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransitionTo returns true if moving from s to target is allowed.
func (s State) CanTransitionTo(target State) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	return allowed[target]
}

// ParseState converts a persisted state string back to a State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown state %q", s)
	}
	return st, nil
}

// Status is the coarse view of an instance exposed to callers.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusNotFound  Status = "NOT_FOUND"
)

// Status maps a state to its caller-visible status. Every non-terminal state
// reports as Running.
func (s State) Status() Status {
	switch s {
	case StateCompleted:
		return StatusCompleted
	case StateFailed:
		return StatusFailed
	case StateCancelled:
		return StatusCancelled
	default:
		return StatusRunning
	}
}

// Signal is an external, fire-and-forget message to an instance.
type Signal string

const (
	SignalStart  Signal = "start"
	SignalCancel Signal = "cancel"
)

// ParseSignal validates a signal name.
func ParseSignal(s string) (Signal, error) {
	switch Signal(s) {
	case SignalStart, SignalCancel:
		return Signal(s), nil
	default:
		return "", fmt.Errorf("unknown signal %q", s)
	}
}
