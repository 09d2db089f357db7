package crawler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// admitFunc receives the slot acquired for a pending item, or the reason
// acquisition failed. It is called exactly once per submission.
type admitFunc func(slot *Slot, err error)

type pendingItem struct {
	priority int
	seq      uint64
	admit    admitFunc
}

type pendingHeap []*pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(*pendingItem)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// keyQueue orders pending work for one limiter key and feeds it into the
// pool no faster than its rate allows. A drain goroutine runs only while
// the queue is non-empty.
type keyQueue struct {
	key     string
	limiter *rate.Limiter

	mu      sync.Mutex
	items   pendingHeap
	seq     uint64
	running bool
}

// limiterCluster is the set of keyed queues in front of the shared pool.
type limiterCluster struct {
	pool      *Pool
	ceiling   *semaphore.Weighted
	interval  time.Duration
	intervals map[string]time.Duration
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[string]*keyQueue
	closed bool
}

func newLimiterCluster(pool *Pool, opts Options, logger *zap.Logger) *limiterCluster {
	ctx, cancel := context.WithCancel(context.Background())
	intervals := make(map[string]time.Duration, len(opts.RateLimits))
	for k, v := range opts.RateLimits {
		intervals[k] = v
	}
	return &limiterCluster{
		pool:      pool,
		ceiling:   semaphore.NewWeighted(int64(opts.LimiterConcurrency)),
		interval:  opts.RateLimit,
		intervals: intervals,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]*keyQueue),
	}
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

func (c *limiterCluster) queue(key string) (*keyQueue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrEngineClosed
	}
	q, ok := c.queues[key]
	if !ok {
		interval, found := c.intervals[key]
		if !found {
			interval = c.interval
		}
		q = &keyQueue{key: key, limiter: rate.NewLimiter(limitFor(interval), 1)}
		c.queues[key] = q
	}
	return q, nil
}

// submit queues work on key. admit is always called, possibly with an error.
func (c *limiterCluster) submit(key string, priority int, admit admitFunc) {
	q, err := c.queue(key)
	if err != nil {
		admit(nil, err)
		return
	}
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &pendingItem{priority: priority, seq: q.seq, admit: admit})
	start := !q.running
	q.running = true
	q.mu.Unlock()
	if start {
		go c.drain(q)
	}
}

func (c *limiterCluster) drain(q *keyQueue) {
	for {
		q.mu.Lock()
		if q.items.Len() == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		if err := q.limiter.Wait(c.ctx); err != nil {
			c.failAll(q, fmt.Errorf("rate limit wait: %w", ErrEngineClosed))
			return
		}
		if err := c.ceiling.Acquire(c.ctx, 1); err != nil {
			c.failAll(q, fmt.Errorf("limiter ceiling: %w", ErrEngineClosed))
			return
		}

		// Pop after the gates so late, more urgent arrivals still go first.
		// The pool place is taken here, in pop order; only the wait for
		// the slot moves to its own goroutine.
		q.mu.Lock()
		item := heap.Pop(&q.items).(*pendingItem)
		q.mu.Unlock()
		res := c.pool.reserve(item.priority)

		go func() {
			slot, err := res.wait(c.ctx)
			c.ceiling.Release(1)
			if err != nil {
				err = fmt.Errorf("acquire slot: %w", ErrEngineClosed)
			}
			item.admit(slot, err)
		}()
	}
}

func (c *limiterCluster) failAll(q *keyQueue, err error) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.running = false
	q.mu.Unlock()
	for _, item := range items {
		item.admit(nil, err)
	}
	c.logger.Debug("limiter queue stopped", zap.String("limiter", q.key), zap.Int("failed", len(items)))
}

// pending returns the number of items waiting per key.
func (c *limiterCluster) pending() map[string]int {
	c.mu.Lock()
	queues := make([]*keyQueue, 0, len(c.queues))
	for _, q := range c.queues {
		queues = append(queues, q)
	}
	c.mu.Unlock()
	out := make(map[string]int, len(queues))
	for _, q := range queues {
		q.mu.Lock()
		out[q.key] = q.items.Len()
		q.mu.Unlock()
	}
	return out
}

func (c *limiterCluster) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}
