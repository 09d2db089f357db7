package crawler

import (
	"context"
	"sync"
)

// Slot is a reusable unit of transport concurrency.
type Slot struct {
	id int
}

// ID returns the slot's stable index.
func (s *Slot) ID() int { return s.id }

type slotWaiter struct {
	ch chan *Slot
}

// Pool is a bounded set of slots handed out in priority order. Lower
// priority numbers are served first; equal priorities are served FIFO.
// It is safe for concurrent use by multiple goroutines.
type Pool struct {
	mu      sync.Mutex
	max     int
	created int
	idle    []*Slot
	waiters [][]*slotWaiter
	waiting int
}

// NewPool creates a pool of at most max slots with the given number of
// priority levels.
func NewPool(max, levels int) *Pool {
	if max <= 0 {
		max = 1
	}
	if levels <= 0 {
		levels = 1
	}
	return &Pool{max: max, waiters: make([][]*slotWaiter, levels)}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context, priority int) (*Slot, error) {
	return p.reserve(priority).wait(ctx)
}

// reservation is a place in line for a slot. It is taken synchronously so
// callers that reserve in order are served in that order.
type reservation struct {
	pool     *Pool
	priority int
	slot     *Slot
	waiter   *slotWaiter
}

func (p *Pool) reserve(priority int) *reservation {
	priority = clampPriority(priority, len(p.waiters))

	p.mu.Lock()
	defer p.mu.Unlock()
	r := &reservation{pool: p, priority: priority}
	if s := p.takeLocked(); s != nil {
		r.slot = s
		return r
	}
	r.waiter = &slotWaiter{ch: make(chan *Slot, 1)}
	p.waiters[priority] = append(p.waiters[priority], r.waiter)
	p.waiting++
	return r
}

// wait blocks until the reserved slot is handed over or ctx is cancelled.
func (r *reservation) wait(ctx context.Context) (*Slot, error) {
	if r.slot != nil {
		return r.slot, nil
	}
	select {
	case s := <-r.waiter.ch:
		return s, nil
	case <-ctx.Done():
		p := r.pool
		p.mu.Lock()
		removed := p.removeLocked(r.priority, r.waiter)
		p.mu.Unlock()
		if !removed {
			// A slot was handed over while we were cancelling.
			p.Release(<-r.waiter.ch)
		}
		return nil, ctx.Err()
	}
}

// Release returns a slot, handing it directly to the most urgent waiter.
func (p *Pool) Release(s *Slot) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for level, queue := range p.waiters {
		if len(queue) == 0 {
			continue
		}
		w := queue[0]
		queue[0] = nil
		p.waiters[level] = queue[1:]
		p.waiting--
		w.ch <- s
		return
	}
	p.idle = append(p.idle, s)
}

// Size returns the number of slots created so far.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Waiting returns the number of callers blocked in Acquire.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Available returns the number of idle slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Capacity returns the maximum number of slots.
func (p *Pool) Capacity() int {
	return p.max
}

func (p *Pool) takeLocked() *Slot {
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return s
	}
	if p.created < p.max {
		s := &Slot{id: p.created}
		p.created++
		return s
	}
	return nil
}

func (p *Pool) removeLocked(priority int, w *slotWaiter) bool {
	queue := p.waiters[priority]
	for i, candidate := range queue {
		if candidate == w {
			p.waiters[priority] = append(queue[:i], queue[i+1:]...)
			p.waiting--
			return true
		}
	}
	return false
}
