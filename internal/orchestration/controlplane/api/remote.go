package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/client"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane"
	"github.com/zjrosen/textflow/internal/orchestration/task"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

// ErrUnauthorized is returned when the daemon rejects the client's credentials.
var ErrUnauthorized = errors.New("unauthorized")

const defaultRequestTimeout = 30 * time.Second

// RemoteBackend drives a daemon's HTTP API. It implements client.Backend.
type RemoteBackend struct {
	baseURL      string
	token        string
	pollInterval time.Duration
	http         *http.Client
	clock        clockwork.Clock
}

var _ client.Backend = (*RemoteBackend)(nil)

// RemoteOption customizes a RemoteBackend.
type RemoteOption func(*RemoteBackend)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(b *RemoteBackend) { b.http = c }
}

// WithClock sets the clock Wait polls with.
func WithClock(c clockwork.Clock) RemoteOption {
	return func(b *RemoteBackend) { b.clock = c }
}

// NewRemoteBackend returns a backend for the daemon at cfg.Endpoint.
func NewRemoteBackend(cfg client.Config, opts ...RemoteOption) (*RemoteBackend, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &RemoteBackend{
		baseURL:      strings.TrimRight(cfg.Endpoint, "/"),
		token:        cfg.Credentials,
		pollInterval: cfg.PollInterval,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultRequestTimeout,
		},
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Create posts a deferred analysis; the instance waits for its start signal.
func (b *RemoteBackend) Create(ctx context.Context, req controlplane.CreateRequest) (controlplane.InstanceID, error) {
	var resp AnalyzeResponse
	body := AnalyzeRequest{Text: req.Text, ID: string(req.ID), DeferStart: true}
	if err := b.do(ctx, http.MethodPost, "/analyze", req.ID, body, &resp); err != nil {
		return "", err
	}
	return controlplane.InstanceID(resp.InstanceID), nil
}

// Signal posts sig to the instance.
func (b *RemoteBackend) Signal(ctx context.Context, id controlplane.InstanceID, sig workflow.Signal) error {
	path := "/signal/" + url.PathEscape(string(id)) + "/" + url.PathEscape(string(sig))
	return b.do(ctx, http.MethodPost, path, id, nil, nil)
}

// Describe fetches the instance's status.
func (b *RemoteBackend) Describe(ctx context.Context, id controlplane.InstanceID) (*controlplane.Snapshot, error) {
	var resp StatusResponse
	if err := b.do(ctx, http.MethodGet, "/status/"+url.PathEscape(string(id)), id, nil, &resp); err != nil {
		return nil, err
	}
	return responseToSnapshot(resp)
}

// Wait polls Describe every poll interval until the instance is terminal or
// ctx is done.
func (b *RemoteBackend) Wait(ctx context.Context, id controlplane.InstanceID) (*controlplane.Snapshot, error) {
	for {
		snap, err := b.Describe(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if snap.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.clock.After(b.pollInterval):
		}
	}
}

func (b *RemoteBackend) do(ctx context.Context, method, path string, id controlplane.InstanceID, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(NamespaceHeader, controlplane.NamespaceFromContext(ctx))
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return remoteError(resp, id)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// remoteError maps an error response back onto the engine's error kinds.
func remoteError(resp *http.Response, id controlplane.InstanceID) error {
	var er ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&er)
	var detail error
	if er.Details != "" {
		detail = errors.New(er.Details)
	} else if er.Error != "" {
		detail = errors.New(er.Error)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &controlplane.EngineError{Kind: controlplane.KindInstanceNotFound, InstanceID: id}
	case http.StatusBadRequest:
		return &controlplane.EngineError{Kind: controlplane.KindInvalidRequest, InstanceID: id, Err: detail}
	case http.StatusConflict:
		return &controlplane.EngineError{Kind: controlplane.KindAlreadyExists, InstanceID: id, Err: detail}
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %v", controlplane.ErrEngineClosed, detail)
	default:
		return &controlplane.EngineError{
			Kind:       controlplane.KindInternalFault,
			InstanceID: id,
			Err:        fmt.Errorf("HTTP %d: %v", resp.StatusCode, detail),
		}
	}
}

func responseToSnapshot(resp StatusResponse) (*controlplane.Snapshot, error) {
	state := resp.State
	if state == "" {
		return nil, fmt.Errorf("status response for %s has no state", resp.InstanceID)
	}
	if _, err := workflow.ParseState(string(state)); err != nil {
		return nil, err
	}
	snap := &controlplane.Snapshot{
		ID:             controlplane.InstanceID(resp.InstanceID),
		Namespace:      resp.Namespace,
		State:          state,
		StartReceived:  resp.StartReceived,
		CancelReceived: resp.CancelReceived,
		Result:         resp.Result,
		Failure:        resp.Failure,
		TimerFireAt:    resp.TimerFireAt,
		StartedAt:      resp.StartedAt,
		CompletedAt:    resp.CompletedAt,
		LastSeq:        resp.LastSeq,
	}
	if resp.CreatedAt != nil {
		snap.CreatedAt = *resp.CreatedAt
	}
	if resp.UpdatedAt != nil {
		snap.UpdatedAt = *resp.UpdatedAt
	}
	if len(resp.Tasks) > 0 {
		snap.Tasks = make(map[analysis.Kind]workflow.TaskOutcome, len(resp.Tasks))
		for kind, tr := range resp.Tasks {
			outcome := workflow.TaskOutcome{Scheduled: tr.Scheduled, Result: tr.Result}
			if tr.Error != nil {
				outcome.Error = &task.TaskError{Kind: task.ErrorKind(tr.Error.Kind), Task: tr.Error.Task, Message: tr.Error.Message}
			}
			snap.Tasks[analysis.Kind(kind)] = outcome
		}
	}
	return snap, nil
}
