package workflow

import (
	"errors"

	"github.com/zjrosen/textflow/internal/orchestration/task"
)

// ErrUserCancelled is the terminal error of a cancelled instance.
var ErrUserCancelled = errors.New("analysis cancelled by user")

// FailureKind classifies why an instance did not complete.
type FailureKind string

const (
	FailureUserCancelled FailureKind = "USER_CANCELLED"
	FailureTask          FailureKind = "TASK_FAILURE"
	FailureInternal      FailureKind = "INTERNAL_FAULT"
)

// Failure is the recorded cause of a FAILED or CANCELLED instance.
type Failure struct {
	Kind      FailureKind     `json:"kind"`
	Message   string          `json:"message"`
	TaskError *task.TaskError `json:"task_error,omitempty"`
}

// Err converts the failure into the error returned to callers:
// ErrUserCancelled, the task's *task.TaskError, or a generic error.
func (f *Failure) Err() error {
	if f == nil {
		return nil
	}
	switch f.Kind {
	case FailureUserCancelled:
		return ErrUserCancelled
	case FailureTask:
		if f.TaskError != nil {
			return f.TaskError
		}
	}
	return errors.New(f.Message)
}

func cancelledFailure() *Failure {
	return &Failure{Kind: FailureUserCancelled, Message: ErrUserCancelled.Error()}
}

func taskFailure(te *task.TaskError) *Failure {
	return &Failure{Kind: FailureTask, Message: te.Error(), TaskError: te}
}
