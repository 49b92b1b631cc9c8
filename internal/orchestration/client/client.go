package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/textflow/internal/log"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

var (
	// ErrValidation is returned for input rejected before any instance exists.
	ErrValidation = errors.New("validation error")
	// ErrClientTimeout is returned when AwaitResult gives up waiting.
	ErrClientTimeout = errors.New("timed out waiting for analysis result")
	// ErrInstanceNotFound is returned for unknown instance IDs.
	ErrInstanceNotFound = controlplane.ErrInstanceNotFound
	// ErrUserCancelled is the terminal error of a cancelled analysis.
	ErrUserCancelled = workflow.ErrUserCancelled
)

// Client starts and observes analyses through a Backend. It is safe for
// concurrent use.
type Client struct {
	backend Backend
	cfg     Config
	pending *sync.WaitGroup
}

// New returns a client over backend.
func New(backend Backend, cfg Config) *Client {
	return &Client{
		backend: backend,
		cfg:     cfg.WithDefaults(),
		pending: &sync.WaitGroup{},
	}
}

// WithNamespace returns a client bound to ns that shares c's backend and
// pending start signals.
func (c *Client) WithNamespace(ns string) *Client {
	cp := *c
	if ns != "" {
		cp.cfg.Namespace = ns
	}
	return &cp
}

// Namespace returns the namespace calls are scoped to.
func (c *Client) Namespace() string {
	return c.cfg.Namespace
}

func (c *Client) scope(ctx context.Context) context.Context {
	return controlplane.WithNamespace(ctx, c.cfg.Namespace)
}

// Create persists an analysis without starting it. It runs once the start
// signal arrives, or never if cancel arrives first.
func (c *Client) Create(ctx context.Context, id controlplane.InstanceID, text string) (controlplane.InstanceID, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text must not be empty", ErrValidation)
	}
	created, err := c.backend.Create(c.scope(ctx), controlplane.CreateRequest{ID: id, Text: text})
	if err != nil {
		if errors.Is(err, controlplane.ErrInvalidRequest) {
			return "", fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return "", err
	}
	return created, nil
}

// Start creates an analysis and sends its start signal asynchronously.
// The returned ID is valid immediately; the signal is delivered with its own
// deadline and does not depend on ctx staying alive.
func (c *Client) Start(ctx context.Context, text string) (controlplane.InstanceID, error) {
	return c.StartWithID(ctx, "", text)
}

// StartWithID is Start with a caller-chosen instance ID.
func (c *Client) StartWithID(ctx context.Context, id controlplane.InstanceID, text string) (controlplane.InstanceID, error) {
	id, err := c.Create(ctx, id, text)
	if err != nil {
		return "", err
	}

	sigCtx := c.scope(context.WithoutCancel(ctx))
	c.pending.Add(1)
	log.SafeGo("start-"+string(id), func() {
		defer c.pending.Done()
		sigCtx, cancel := context.WithTimeout(sigCtx, c.cfg.StartTimeout)
		defer cancel()
		if err := c.backend.Signal(sigCtx, id, workflow.SignalStart); err != nil {
			log.Warn(log.CatClient, "Start signal not delivered", "instance", id, "error", err)
			return
		}
		log.Debug(log.CatClient, "Start signal delivered", "instance", id)
	})

	log.Info(log.CatClient, "Analysis started", "instance", id, "namespace", c.cfg.Namespace)
	return id, nil
}

// AwaitResult blocks until the analysis is terminal or timeout elapses. On
// timeout it sends a best-effort cancel and returns ErrClientTimeout.
// A FAILED analysis returns an error wrapping its *task.TaskError; a
// CANCELLED one returns ErrUserCancelled. A timeout <= 0 uses one minute.
func (c *Client) AwaitResult(ctx context.Context, id controlplane.InstanceID, timeout time.Duration) (*analysis.AnalysisResult, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(c.scope(ctx), timeout)
	defer cancel()

	snap, err := c.backend.Wait(waitCtx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.cancelAfterTimeout(ctx, id)
			return nil, fmt.Errorf("%w: %s after %s", ErrClientTimeout, id, timeout)
		}
		return nil, err
	}

	switch snap.Status() {
	case workflow.StatusCompleted:
		return snap.Result, nil
	case workflow.StatusFailed, workflow.StatusCancelled:
		return nil, snap.Err()
	default:
		return nil, fmt.Errorf("instance %s returned from wait in state %s", id, snap.State)
	}
}

func (c *Client) cancelAfterTimeout(ctx context.Context, id controlplane.InstanceID) {
	cancelCtx, cancel := context.WithTimeout(c.scope(context.WithoutCancel(ctx)), c.cfg.CancelTimeout)
	defer cancel()
	if err := c.backend.Signal(cancelCtx, id, workflow.SignalCancel); err != nil {
		log.Warn(log.CatClient, "Cancel after timeout not delivered", "instance", id, "error", err)
		return
	}
	log.Info(log.CatClient, "Cancelled analysis after client timeout", "instance", id)
}

// GetStatus reports the analysis status. Unknown IDs report StatusNotFound
// without an error.
func (c *Client) GetStatus(ctx context.Context, id controlplane.InstanceID) (workflow.Status, error) {
	snap, err := c.backend.Describe(c.scope(ctx), id)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			return workflow.StatusNotFound, nil
		}
		return "", err
	}
	return snap.Status(), nil
}

// Describe returns the full snapshot.
func (c *Client) Describe(ctx context.Context, id controlplane.InstanceID) (*controlplane.Snapshot, error) {
	return c.backend.Describe(c.scope(ctx), id)
}

// Signal delivers a raw signal.
func (c *Client) Signal(ctx context.Context, id controlplane.InstanceID, sig workflow.Signal) error {
	return c.backend.Signal(c.scope(ctx), id, sig)
}

// Cancel sends the cancel signal. Cancelling a terminal analysis is a no-op;
// unknown IDs return ErrInstanceNotFound.
func (c *Client) Cancel(ctx context.Context, id controlplane.InstanceID) error {
	return c.Signal(ctx, id, workflow.SignalCancel)
}

// Analyze starts an analysis and waits for its result.
func (c *Client) Analyze(ctx context.Context, text string, timeout time.Duration) (*analysis.AnalysisResult, error) {
	id, err := c.Start(ctx, text)
	if err != nil {
		return nil, err
	}
	return c.AwaitResult(ctx, id, timeout)
}

// Close waits for outstanding start signals.
func (c *Client) Close() {
	c.pending.Wait()
}
