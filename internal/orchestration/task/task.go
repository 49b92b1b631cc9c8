// Package task defines the boundary between the orchestration and the opaque
// analysis functions it runs.
//
// A task function takes the shared input text and returns a typed result or an
// error. Invoke runs a function under a per-invocation timeout that holds even
// when the function ignores its context, and normalizes every failure (errors,
// timeouts, panics) into a *TaskError. Retry is not done here; see the pool.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// DefaultTimeout bounds a single invocation when no timeout is configured.
const DefaultTimeout = time.Minute

// Func is the shared calling convention for every task variant.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Invoke runs fn with in, returning when fn returns or timeout elapses,
// whichever comes first. A function that ignores ctx keeps running in the
// background but its result is discarded.
func Invoke[In, Out any](ctx context.Context, timeout time.Duration, fn Func[In, Out], in In) (Out, error) {
	var zero Out
	if fn == nil {
		return zero, Errorf(KindInternal, "task function is nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out Out
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &TaskError{
					Kind:    KindInternal,
					Message: fmt.Sprintf("panic: %v", r),
					Cause:   fmt.Errorf("%v\n%s", r, debug.Stack()),
				}}
			}
		}()
		out, err := fn(ctx, in)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return zero, Normalize("", o.err)
		}
		return o.out, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, Wrap(KindTimeout, ctx.Err(), fmt.Sprintf("exceeded timeout of %s", timeout))
		}
		return zero, Wrap(KindCanceled, ctx.Err(), "")
	}
}

// Runner is a type-erased task: the pool only sees JSON results.
type Runner interface {
	Name() string
	Run(ctx context.Context, input string) (json.RawMessage, error)
}

type boundRunner[Out any] struct {
	name string
	fn   Func[string, Out]
}

// Bind adapts a typed task function into a Runner that encodes its result as JSON.
func Bind[Out any](name string, fn Func[string, Out]) Runner {
	return &boundRunner[Out]{name: name, fn: fn}
}

func (r *boundRunner[Out]) Name() string { return r.name }

func (r *boundRunner[Out]) Run(ctx context.Context, input string) (json.RawMessage, error) {
	if r.fn == nil {
		return nil, Errorf(KindInternal, "no function bound for task %s", r.name)
	}
	out, err := r.fn(ctx, input)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, Wrap(KindMalformed, err, "encoding result")
	}
	return raw, nil
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc struct {
	TaskName string
	Fn       func(ctx context.Context, input string) (json.RawMessage, error)
}

func (r RunnerFunc) Name() string { return r.TaskName }

func (r RunnerFunc) Run(ctx context.Context, input string) (json.RawMessage, error) {
	return r.Fn(ctx, input)
}
