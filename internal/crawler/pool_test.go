package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCreatesSlotsLazily(t *testing.T) {
	t.Parallel()

	p := NewPool(2, 3)
	require.Equal(t, 0, p.Size())
	require.Equal(t, 2, p.Capacity())

	a, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	b, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())
	require.Equal(t, 2, p.Size())
	require.Equal(t, 0, p.Available())

	p.Release(a)
	require.Equal(t, 1, p.Available())
	c, err := p.Acquire(context.Background(), 2)
	require.NoError(t, err)
	require.Same(t, a, c)
	require.Equal(t, 2, p.Size())
}

func TestPoolServesLowestPriorityFirst(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 3)
	held, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	order := make(chan int, 3)
	for i, prio := range []int{2, 0, 1} {
		prio := prio
		go func() {
			s, err := p.Acquire(context.Background(), prio)
			if err != nil {
				return
			}
			order <- prio
			p.Release(s)
		}()
		want := i + 1
		require.Eventually(t, func() bool { return p.Waiting() == want }, time.Second, time.Millisecond)
	}

	p.Release(held)
	got := []int{<-order, <-order, <-order}
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestPoolIsFIFOWithinPriority(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 1)
	held, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			s, err := p.Acquire(context.Background(), 0)
			if err != nil {
				return
			}
			order <- i
			p.Release(s)
		}()
		require.Eventually(t, func() bool { return p.Waiting() == i+1 }, time.Second, time.Millisecond)
	}

	p.Release(held)
	assert.Equal(t, []int{0, 1, 2}, []int{<-order, <-order, <-order})
}

func TestPoolReservationsKeepOrder(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 1)
	held, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	reservations := make([]*reservation, 5)
	for i := range reservations {
		reservations[i] = p.reserve(0)
	}
	require.Equal(t, 5, p.Waiting())

	// Waiters start in reverse; service still follows reservation order.
	order := make(chan int, len(reservations))
	for i := len(reservations) - 1; i >= 0; i-- {
		i := i
		go func() {
			s, err := reservations[i].wait(context.Background())
			if err != nil {
				return
			}
			order <- i
			p.Release(s)
		}()
	}

	p.Release(held)
	got := make([]int, 0, len(reservations))
	for range reservations {
		got = append(got, <-order)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestPoolAcquireCancel(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 2)
	held, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, 1)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.Waiting() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Equal(t, 0, p.Waiting())

	p.Release(held)
	require.Equal(t, 1, p.Available())
}

func TestPoolClampsPriority(t *testing.T) {
	t.Parallel()

	p := NewPool(1, 2)
	held, err := p.Acquire(context.Background(), -5)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s, err := p.Acquire(context.Background(), 99)
		if err == nil {
			p.Release(s)
		}
		close(done)
	}()
	require.Eventually(t, func() bool { return p.Waiting() == 1 }, time.Second, time.Millisecond)
	p.Release(held)
	<-done
	p.Release(nil)
	require.Equal(t, 1, p.Available())
}
