package crawler

import (
	"context"
	"sync"
)

// tracker is the single authoritative count of outstanding work: accepted
// submissions plus planned retries. onIdle runs once per transition to zero.
type tracker struct {
	mu          sync.Mutex
	outstanding int
	idle        chan struct{}
	onIdle      func()
}

func newTracker(onIdle func()) *tracker {
	return &tracker{onIdle: onIdle}
}

func (t *tracker) begin() {
	t.mu.Lock()
	if t.outstanding == 0 {
		t.idle = make(chan struct{})
	}
	t.outstanding++
	t.mu.Unlock()
}

func (t *tracker) end() {
	t.mu.Lock()
	if t.outstanding == 0 {
		t.mu.Unlock()
		panic("crawler: outstanding work counter underflow")
	}
	t.outstanding--
	zero := t.outstanding == 0
	if zero {
		close(t.idle)
	}
	t.mu.Unlock()
	if zero && t.onIdle != nil {
		t.onIdle()
	}
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding
}

// wait blocks until the counter is zero or ctx is done.
func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	if t.outstanding == 0 {
		t.mu.Unlock()
		return nil
	}
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
