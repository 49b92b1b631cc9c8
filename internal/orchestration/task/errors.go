package task

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a task failure.
type ErrorKind string

const (
	// KindTransport covers network and provider errors, and anything unclassified.
	KindTransport ErrorKind = "TRANSPORT"
	// KindMalformed means the task produced output that could not be parsed.
	KindMalformed ErrorKind = "MALFORMED"
	// KindTimeout means the invocation exceeded its timeout.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindQuota means the task was throttled or rejected by a rate limit.
	KindQuota ErrorKind = "QUOTA"
	// KindInternal covers panics and programming errors inside a task.
	KindInternal ErrorKind = "INTERNAL"
	// KindCanceled means the invocation was abandoned because its context ended.
	KindCanceled ErrorKind = "CANCELED"
)

// TaskError is the single error shape every task failure is normalized to.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Task    string    `json:"task,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *TaskError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("task %s failed (%s): %s", e.Task, e.Kind, e.Message)
	}
	return fmt.Sprintf("task failed (%s): %s", e.Kind, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt could plausibly succeed.
func (e *TaskError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindQuota:
		return true
	default:
		return false
	}
}

// Errorf builds a TaskError of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a TaskError of the given kind around cause.
func Wrap(kind ErrorKind, cause error, message string) *TaskError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &TaskError{Kind: kind, Message: message, Cause: cause}
}

// Normalize converts any error into a *TaskError tagged with the task name.
// Returns nil for a nil error. Context errors become Timeout or Canceled and
// anything unrecognized becomes Transport.
func Normalize(name string, err error) *TaskError {
	if err == nil {
		return nil
	}

	var te *TaskError
	if errors.As(err, &te) {
		if te.Task == "" && name != "" {
			cp := *te
			cp.Task = name
			return &cp
		}
		return te
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TaskError{Kind: KindTimeout, Task: name, Message: err.Error(), Cause: err}
	case errors.Is(err, context.Canceled):
		return &TaskError{Kind: KindCanceled, Task: name, Message: err.Error(), Cause: err}
	default:
		return &TaskError{Kind: KindTransport, Task: name, Message: err.Error(), Cause: err}
	}
}
