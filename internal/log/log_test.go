package log

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestWrite_FormatsFieldsAndFiltersLevel(t *testing.T) {
	buf := &syncBuffer{}
	InitWriter(buf, LevelInfo)

	Debug(CatEngine, "hidden")
	Info(CatEngine, "instance created", "id", "abc", "orphan")
	ErrorErr(CatStore, "append failed", errors.New("disk full"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "[INFO] [engine] instance created id=abc orphan=<missing>")
	require.Contains(t, out, "[ERROR] [store] append failed error=disk full")
}

func TestSetEnabled(t *testing.T) {
	buf := &syncBuffer{}
	InitWriter(buf, LevelDebug)

	SetEnabled(false)
	Info(CatAPI, "muted")
	SetEnabled(true)
	Info(CatAPI, "audible")

	require.NotContains(t, buf.String(), "muted")
	require.Contains(t, buf.String(), "audible")
}

func TestSubscribe_ReceivesEntries(t *testing.T) {
	InitWriter(&syncBuffer{}, LevelDebug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := Subscribe(ctx)
	require.NotNil(t, ch)

	Warn(CatPool, "slow task", "kind", "summary")

	select {
	case ev := <-ch:
		require.True(t, strings.Contains(ev.Payload, "[WARN] [pool] slow task kind=summary"))
	case <-time.After(time.Second):
		require.Fail(t, "no log event received")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	buf := &syncBuffer{}
	InitWriter(buf, LevelDebug)

	SafeGo("boom", func() { panic("kaboom") })

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "goroutine=boom")
	}, time.Second, 5*time.Millisecond)
}
