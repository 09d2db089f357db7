package crawler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerIdleTransitions(t *testing.T) {
	t.Parallel()

	var idles atomic.Int32
	tr := newTracker(func() { idles.Add(1) })
	require.NoError(t, tr.wait(context.Background()))

	tr.begin()
	tr.begin()
	tr.end()
	require.Equal(t, int32(0), idles.Load())
	require.Equal(t, 1, tr.count())
	tr.end()
	require.Equal(t, int32(1), idles.Load())

	tr.begin()
	tr.end()
	require.Equal(t, int32(2), idles.Load())
}

func TestTrackerWaitBlocksUntilIdle(t *testing.T) {
	t.Parallel()

	tr := newTracker(nil)
	tr.begin()

	done := make(chan error, 1)
	go func() { done <- tr.wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("wait returned while work was outstanding")
	case <-time.After(20 * time.Millisecond):
	}
	tr.end()
	require.NoError(t, <-done)
}

func TestTrackerWaitHonorsContext(t *testing.T) {
	t.Parallel()

	tr := newTracker(nil)
	tr.begin()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tr.wait(ctx), context.DeadlineExceeded)
}

func TestTrackerUnderflowPanics(t *testing.T) {
	t.Parallel()

	tr := newTracker(nil)
	require.Panics(t, tr.end)
}
