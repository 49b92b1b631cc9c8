package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInstance_CloneIsDeep(t *testing.T) {
	fire := time.Now()
	orig := &Instance{
		ID:          "a",
		Namespace:   DefaultNamespace,
		Tasks:       map[string]TaskRecord{"summary": {Scheduled: true}},
		Result:      []byte(`{"x":1}`),
		TimerFireAt: &fire,
	}

	c := orig.Clone()
	c.Tasks["topics"] = TaskRecord{Scheduled: true}
	c.Result[0] = '['
	*c.TimerFireAt = fire.Add(time.Hour)

	require.Len(t, orig.Tasks, 1)
	require.Equal(t, `{"x":1}`, string(orig.Result))
	require.True(t, orig.TimerFireAt.Equal(fire))
	require.Nil(t, (*Instance)(nil).Clone())
}

func TestInstance_Key(t *testing.T) {
	inst := &Instance{ID: "text-analysis-1", Namespace: "team"}
	require.Equal(t, "team/text-analysis-1", inst.Key())
}

func TestListFilter_Matches(t *testing.T) {
	running := &Instance{State: "RUNNING"}
	require.True(t, ListFilter{}.Matches(running))
	require.True(t, ListFilter{States: []string{"CREATED", "RUNNING"}}.Matches(running))
	require.False(t, ListFilter{States: []string{"COMPLETED"}}.Matches(running))
}

func TestCheckAppend(t *testing.T) {
	ev := func(seqs ...int64) []Event {
		out := make([]Event, 0, len(seqs))
		for _, s := range seqs {
			out = append(out, Event{Seq: s})
		}
		return out
	}

	require.NoError(t, CheckAppend(3, nil))
	require.NoError(t, CheckAppend(3, ev(4, 5, 6)))

	err := CheckAppend(3, ev(3))
	require.ErrorIs(t, err, ErrSeqConflict)
	var conflict *SeqConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(4), conflict.Expected)
	require.Equal(t, int64(3), conflict.Got)

	require.ErrorIs(t, CheckAppend(0, ev(1, 3)), ErrSeqConflict, "gaps within a batch are rejected")
}

func TestNotFoundError(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &NotFoundError{Namespace: "ns", ID: "x"})
	require.True(t, errors.Is(err, ErrNotFound))
	require.False(t, errors.Is(err, ErrSeqConflict))
	require.Contains(t, err.Error(), "instance not found: x (namespace: ns)")
}
