package controlplane

import (
	"errors"
	"fmt"

	"github.com/zjrosen/textflow/internal/orchestration/task"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

// ErrorKind classifies engine errors surfaced to callers.
type ErrorKind string

const (
	KindInstanceNotFound     ErrorKind = "INSTANCE_NOT_FOUND"
	KindSignalDeliveryFailed ErrorKind = "SIGNAL_DELIVERY_FAILED"
	KindTaskTimeout          ErrorKind = "TASK_TIMEOUT"
	KindTaskFailure          ErrorKind = "TASK_FAILURE"
	KindInternalFault        ErrorKind = "INTERNAL_FAULT"
	KindAlreadyExists        ErrorKind = "ALREADY_EXISTS"
	KindInvalidRequest       ErrorKind = "INVALID_REQUEST"
)

// Sentinel errors for errors.Is checks against an *EngineError.
var (
	ErrInstanceNotFound     = errors.New("instance not found")
	ErrSignalDeliveryFailed = errors.New("signal delivery failed")
	ErrTaskTimeout          = errors.New("task timed out")
	ErrTaskFailure          = errors.New("task failed")
	ErrInternalFault        = errors.New("internal fault")
	ErrAlreadyExists        = errors.New("instance already exists")
	ErrInvalidRequest       = errors.New("invalid request")
	// ErrEngineClosed is returned by operations after Shutdown.
	ErrEngineClosed = errors.New("engine is shut down")
)

var kindSentinels = map[ErrorKind]error{
	KindInstanceNotFound:     ErrInstanceNotFound,
	KindSignalDeliveryFailed: ErrSignalDeliveryFailed,
	KindTaskTimeout:          ErrTaskTimeout,
	KindTaskFailure:          ErrTaskFailure,
	KindInternalFault:        ErrInternalFault,
	KindAlreadyExists:        ErrAlreadyExists,
	KindInvalidRequest:       ErrInvalidRequest,
}

// EngineError is the error type returned by Engine operations.
type EngineError struct {
	Kind       ErrorKind
	InstanceID InstanceID
	Err        error
}

func (e *EngineError) Error() string {
	msg := string(e.Kind)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		msg = sentinel.Error()
	}
	if e.InstanceID != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.InstanceID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *EngineError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func newError(kind ErrorKind, id InstanceID, err error) *EngineError {
	return &EngineError{Kind: kind, InstanceID: id, Err: err}
}

func notFound(id InstanceID) *EngineError {
	return newError(KindInstanceNotFound, id, nil)
}

// taskError wraps the first task failure of a FAILED instance. A task
// timeout is reported as TASK_TIMEOUT; every other task error as TASK_FAILURE.
func taskError(id InstanceID, f *workflow.Failure) *EngineError {
	if f.TaskError == nil {
		return newError(KindTaskFailure, id, errors.New(f.Message))
	}
	kind := KindTaskFailure
	if f.TaskError.Kind == task.KindTimeout {
		kind = KindTaskTimeout
	}
	return newError(kind, id, f.TaskError)
}

// ErrorKindOf returns the kind of an *EngineError in err's chain, or "".
func ErrorKindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}
