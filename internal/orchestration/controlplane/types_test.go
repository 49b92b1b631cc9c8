package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/task"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

func TestNewInstanceID(t *testing.T) {
	clock := newFakeClock()
	id := NewInstanceID(clock)

	pattern := regexp.MustCompile(`^text-analysis-\d+-[0-9a-f]{8}$`)
	require.Regexp(t, pattern, id.String())
	require.Contains(t, id.String(), "1772443800000")
	require.NoError(t, id.Validate())
	require.NotEqual(t, id, NewInstanceID(clock), "same millisecond still yields distinct IDs")
}

func TestInstanceID_Validate(t *testing.T) {
	require.Error(t, InstanceID("").Validate())
	require.Error(t, InstanceID("a/b").Validate())
	require.Error(t, InstanceID("has space").Validate())
	require.NoError(t, InstanceID("invoice-2024-03").Validate())
}

func TestNamespaceFromContext(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, domain.DefaultNamespace, NamespaceFromContext(ctx))
	require.Equal(t, ctx, WithNamespace(ctx, ""))
	require.Equal(t, "team-b", NamespaceFromContext(WithNamespace(ctx, "team-b")))
}

func TestSnapshot_Err(t *testing.T) {
	require.NoError(t, (&Snapshot{State: workflow.StateCompleted}).Err())

	cancelled := &Snapshot{State: workflow.StateCancelled, Failure: &workflow.Failure{Kind: workflow.FailureUserCancelled}}
	require.ErrorIs(t, cancelled.Err(), workflow.ErrUserCancelled)

	timeout := &Snapshot{ID: "x", State: workflow.StateFailed, Failure: &workflow.Failure{
		Kind:      workflow.FailureTask,
		TaskError: task.Errorf(task.KindTimeout, "deadline"),
	}}
	require.ErrorIs(t, timeout.Err(), ErrTaskTimeout)
	var te *task.TaskError
	require.ErrorAs(t, timeout.Err(), &te)

	internal := &Snapshot{State: workflow.StateFailed, Failure: &workflow.Failure{Kind: workflow.FailureInternal, Message: "boom"}}
	require.ErrorIs(t, internal.Err(), ErrInternalFault)
}

func TestEngineError(t *testing.T) {
	err := fmt.Errorf("describing: %w", newError(KindInstanceNotFound, "abc", nil))
	require.ErrorIs(t, err, ErrInstanceNotFound)
	require.NotErrorIs(t, err, ErrTaskFailure)
	require.Equal(t, KindInstanceNotFound, ErrorKindOf(err))
	require.Equal(t, "instance not found: abc", errors.Unwrap(err).Error())
	require.Empty(t, ErrorKindOf(errors.New("plain")))
}

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	v := workflow.View{
		State:         workflow.StateFailed,
		Text:          "hello",
		StartReceived: true,
		Tasks: map[analysis.Kind]workflow.TaskOutcome{
			analysis.KindSentiment: {Scheduled: true, Result: json.RawMessage(`{"sentiment":"POSITIVE"}`)},
			analysis.KindSummary:   {Scheduled: true, Error: &task.TaskError{Kind: task.KindQuota, Task: "summary", Message: "429"}},
		},
		Failure:   &workflow.Failure{Kind: workflow.FailureTask, Message: "429"},
		CreatedAt: now,
		StartedAt: now.Add(time.Second),
		UpdatedAt: now.Add(2 * time.Second),
		LastSeq:   9,
	}

	inst, err := instanceFromView("default", "abc", v)
	require.NoError(t, err)
	require.Nil(t, inst.CompletedAt)
	require.Nil(t, inst.TimerFireAt)
	require.JSONEq(t, `{"kind":"QUOTA","task":"summary","message":"429"}`, string(inst.Tasks["summary"].Error))

	snap, err := snapshotFromInstance(inst)
	require.NoError(t, err)
	require.Equal(t, InstanceID("abc"), snap.ID)
	require.Equal(t, workflow.StateFailed, snap.State)
	require.Equal(t, task.KindQuota, snap.Tasks[analysis.KindSummary].Error.Kind)
	require.JSONEq(t, `{"sentiment":"POSITIVE"}`, string(snap.Tasks[analysis.KindSentiment].Result))
	require.Equal(t, workflow.FailureTask, snap.Failure.Kind)
	require.True(t, snap.StartedAt.Equal(now.Add(time.Second)))
	require.EqualValues(t, 9, snap.LastSeq)
}

func TestSnapshotFromInstance_BadState(t *testing.T) {
	_, err := snapshotFromInstance(&domain.Instance{ID: "x", State: "PAUSED"})
	require.Error(t, err)
}
