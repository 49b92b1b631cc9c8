package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/client"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane"
	"github.com/zjrosen/textflow/internal/orchestration/task"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

func newRemoteClient(t *testing.T, f *fixture, cfg client.Config) *client.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	backend, err := NewRemoteBackend(cfg, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	c := client.New(backend, cfg)
	t.Cleanup(c.Close)
	return c
}

func TestNewRemoteBackend_ValidatesEndpoint(t *testing.T) {
	_, err := NewRemoteBackend(client.Config{Endpoint: "ftp://example.com"})
	require.Error(t, err)
}

func TestRemoteBackend_AnalyzeEndToEnd(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	c := newRemoteClient(t, f, client.Config{})
	ctx := testCtx(t)

	id, err := c.Start(ctx, reviewText)
	require.NoError(t, err)

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	status, err := c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRunning, status)

	f.clock.Advance(workflow.DefaultCoolDown)
	result, err := c.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, analysis.LabelPositive, result.Sentiment.Label)
	assert.Equal(t, reviewText, result.OriginalText)
}

func TestRemoteBackend_UnknownInstance(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	c := newRemoteClient(t, f, client.Config{})
	ctx := testCtx(t)

	status, err := c.GetStatus(ctx, "text-analysis-missing")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusNotFound, status)

	require.ErrorIs(t, c.Cancel(ctx, "text-analysis-missing"), client.ErrInstanceNotFound)
}

func TestRemoteBackend_CancelledAndFailedResults(t *testing.T) {
	f := newFixture(t, HandlerConfig{}, func(cfg *controlplane.Config) {
		cfg.Analyzers.Summary = func(context.Context, string) (analysis.SummaryResult, error) {
			return analysis.SummaryResult{}, task.Errorf(task.KindQuota, "rate limited")
		}
	})
	c := newRemoteClient(t, f, client.Config{})
	ctx := testCtx(t)

	pending, err := c.Create(ctx, "doc-cancel", "hello there")
	require.NoError(t, err)
	require.NoError(t, c.Cancel(ctx, pending))
	_, err = c.AwaitResult(ctx, pending, time.Second)
	require.ErrorIs(t, err, client.ErrUserCancelled)

	failing, err := c.Start(ctx, reviewText)
	require.NoError(t, err)
	_, err = c.AwaitResult(ctx, failing, 5*time.Second)
	require.ErrorIs(t, err, controlplane.ErrTaskFailure)
	var taskErr *task.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, task.KindQuota, taskErr.Kind)
	assert.Equal(t, "summary", taskErr.Task)
}

func TestRemoteBackend_ValidationAndConflicts(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	c := newRemoteClient(t, f, client.Config{})
	ctx := testCtx(t)

	_, err := c.Create(ctx, "bad id", "hello")
	require.ErrorIs(t, err, client.ErrValidation)

	_, err = c.Create(ctx, "doc-1", "hello")
	require.NoError(t, err)
	_, err = c.Create(ctx, "doc-1", "hello")
	require.ErrorIs(t, err, controlplane.ErrAlreadyExists)
}

func TestRemoteBackend_SendsCredentialsAndNamespace(t *testing.T) {
	f := newFixture(t, HandlerConfig{AuthToken: "s3cret"})
	ctx := testCtx(t)

	anonymous := newRemoteClient(t, f, client.Config{})
	_, err := anonymous.Create(ctx, "", "hello")
	require.ErrorIs(t, err, ErrUnauthorized)

	c := newRemoteClient(t, f, client.Config{Credentials: "s3cret", Namespace: "team-a"})
	id, err := c.Create(ctx, "", "hello")
	require.NoError(t, err)

	snap, err := f.engine.Describe(controlplane.WithNamespace(ctx, "team-a"), id)
	require.NoError(t, err)
	assert.Equal(t, "team-a", snap.Namespace)
}

func TestRemoteBackend_TimeoutCancels(t *testing.T) {
	f := newFixture(t, HandlerConfig{})
	c := newRemoteClient(t, f, client.Config{})
	ctx := testCtx(t)

	id, err := c.Create(ctx, "", "hello there")
	require.NoError(t, err)

	_, err = c.AwaitResult(ctx, id, 30*time.Millisecond)
	require.ErrorIs(t, err, client.ErrClientTimeout)

	status, err := c.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, status)
}
