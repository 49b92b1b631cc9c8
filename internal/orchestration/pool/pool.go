// Package pool runs task invocations on a bounded set of worker goroutines.
//
// Each invocation gets its own timeout, independent of whoever submitted it,
// and may be retried with exponential backoff or throttled by a per-kind
// rate limit. Outcomes are delivered through the job's Done callback.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/zjrosen/textflow/internal/log"
	"github.com/zjrosen/textflow/internal/orchestration/task"
	"github.com/zjrosen/textflow/internal/orchestration/tracing"
)

// DefaultMaxWorkers is the default number of worker goroutines.
const DefaultMaxWorkers = 8

// MinWorkers lets the three analysis tasks of one instance run in parallel.
const MinWorkers = 3

// DefaultQueueCapacity is the number of jobs that may wait for a free worker.
const DefaultQueueCapacity = 256

// ErrPoolClosed is returned when operations are attempted on a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Config holds configuration for the worker pool.
type Config struct {
	MaxWorkers    int           // Worker goroutines (default: 8, minimum: 3)
	QueueCapacity int           // Jobs waiting for a worker (default: 256)
	Timeout       time.Duration // Per-attempt timeout (default: task.DefaultTimeout)
	Policies      map[string]KindPolicy
	Tracer        trace.Tracer
}

// Job is one task invocation.
type Job struct {
	InstanceID string
	Runner     task.Runner
	Input      string
	// Done receives the outcome exactly once, on a worker goroutine.
	Done func(Result)
}

// Result is the outcome of a Job.
type Result struct {
	InstanceID string
	Task       string
	Output     json.RawMessage
	Err        *task.TaskError
	Attempts   int
	Duration   time.Duration
}

// Stats are cumulative pool counters.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	InFlight  int64  `json:"in_flight"`
	Submitted uint64 `json:"submitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Retries   uint64 `json:"retries"`
}

// WorkerPool executes jobs on a fixed number of workers.
type WorkerPool struct {
	jobs       chan Job
	maxWorkers int
	timeout    time.Duration
	policies   map[string]KindPolicy
	limiters   map[string]*rate.Limiter
	tracer     trace.Tracer
	ctx        context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool
	wg         sync.WaitGroup

	inFlight  atomic.Int64
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

// NewWorkerPool creates and starts a pool.
func NewWorkerPool(cfg Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.MaxWorkers < MinWorkers {
		cfg.MaxWorkers = MinWorkers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = task.DefaultTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		jobs:       make(chan Job, cfg.QueueCapacity),
		maxWorkers: cfg.MaxWorkers,
		timeout:    cfg.Timeout,
		policies:   make(map[string]KindPolicy, len(cfg.Policies)),
		limiters:   make(map[string]*rate.Limiter, len(cfg.Policies)),
		tracer:     cfg.Tracer,
		ctx:        ctx,
		cancel:     cancel,
	}
	for name, policy := range cfg.Policies {
		p.policies[name] = policy
		if lim := policy.newLimiter(); lim != nil {
			p.limiters[name] = lim
		}
	}

	for i := range cfg.MaxWorkers {
		workerID := fmt.Sprintf("worker-%d", i+1)
		p.wg.Add(1)
		go p.work(workerID)
	}

	log.Debug(log.CatPool, "Worker pool started", "subsystem", "pool", "workers", cfg.MaxWorkers)
	return p
}

// Submit queues a job, blocking while the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if job.Runner == nil || job.Done == nil {
		return fmt.Errorf("job requires a runner and a done callback")
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Close stops the workers and waits for in-flight jobs to return.
// Queued jobs are abandoned without calling Done.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return // Already closed
	}

	log.Debug(log.CatPool, "Closing worker pool", "subsystem", "pool")
	p.cancel()
	p.wg.Wait()
}

// MaxWorkers returns the number of worker goroutines.
func (p *WorkerPool) MaxWorkers() int {
	return p.maxWorkers
}

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   p.maxWorkers,
		Queued:    len(p.jobs),
		InFlight:  p.inFlight.Load(),
		Submitted: p.submitted.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Retries:   p.retries.Load(),
	}
}

func (p *WorkerPool) work(workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.runJob(workerID, job)
		}
	}
}

// runJob executes one job, recovering from panics in the Done callback.
func (p *WorkerPool) runJob(workerID string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatPool, "Worker panic recovered",
				"subsystem", "pool",
				"panic", r,
				"workerID", workerID,
				"stack", string(debug.Stack()))
		}
	}()

	p.inFlight.Add(1)
	res := p.execute(job)
	p.inFlight.Add(-1)

	if res.Err != nil {
		p.failed.Add(1)
	} else {
		p.succeeded.Add(1)
	}
	log.Debug(log.CatPool, "Task finished",
		"subsystem", "pool",
		"workerID", workerID,
		"instance", job.InstanceID,
		"task", res.Task,
		"attempts", res.Attempts,
		"duration", res.Duration,
		"failed", res.Err != nil)

	job.Done(res)
}

func (p *WorkerPool) execute(job Job) Result {
	name := job.Runner.Name()
	policy := p.policies[name]
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	limiter := p.limiters[name]

	ctx, span := p.tracer.Start(p.ctx, tracing.SpanPrefixTask+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(tracing.AttrInstanceID, job.InstanceID),
			attribute.String(tracing.AttrTaskKind, name),
		))
	defer span.End()

	start := time.Now()
	attempts := 0

	op := func() (json.RawMessage, error) {
		attempts++
		if attempts > 1 {
			p.retries.Add(1)
			span.AddEvent(tracing.EventTaskRetried, trace.WithAttributes(attribute.Int(tracing.AttrTaskAttempt, attempts)))
		}
		if limiter != nil {
			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			err := limiter.Wait(waitCtx)
			cancel()
			if err != nil {
				return nil, task.Wrap(task.KindQuota, err, "rate limit exceeded")
			}
		}

		out, err := task.Invoke[string, json.RawMessage](ctx, timeout, job.Runner.Run, job.Input)
		if err != nil {
			te := task.Normalize(name, err)
			if !te.Retryable() {
				return nil, backoff.Permanent(te)
			}
			return nil, te
		}
		return out, nil
	}

	var (
		out json.RawMessage
		err error
	)
	if policy.Retry.Enabled() {
		out, err = backoff.Retry[json.RawMessage](ctx, op,
			backoff.WithBackOff(policy.Retry.newBackOff()),
			backoff.WithMaxTries(uint(policy.Retry.MaxAttempts)))
	} else {
		out, err = op()
	}

	res := Result{
		InstanceID: job.InstanceID,
		Task:       name,
		Attempts:   attempts,
		Duration:   time.Since(start),
	}
	span.SetAttributes(attribute.Int(tracing.AttrTaskAttempt, attempts))

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		res.Err = task.Normalize(name, err)
		span.RecordError(res.Err)
		span.SetAttributes(attribute.String(tracing.AttrErrorType, string(res.Err.Kind)))
		span.SetStatus(codes.Error, res.Err.Message)
		return res
	}

	res.Output = out
	span.SetStatus(codes.Ok, "")
	return res
}
