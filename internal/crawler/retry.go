package crawler

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/progress"
)

// plannedRetry is a delayed re-submission. Exactly one of the timer and
// Close claims it.
type plannedRetry struct {
	timer   *time.Timer
	claimed atomic.Bool
}

func (p *plannedRetry) claim() bool {
	return p.claimed.CompareAndSwap(false, true)
}

// retryOrFail either plans a retry of t or delivers a terminal TransportError.
// The slot is released immediately in both cases.
func (e *Engine) retryOrFail(t *task, attempt *Request, cause error, slot *Slot) {
	if *t.spec.Retries > 0 && !e.closed.Load() {
		// Count the planned retry before releasing so the engine never looks idle.
		e.tracker.begin()
		t.spec.Retries = Int(*t.spec.Retries - 1)
		if e.opts.ProxyRotation == RotateOnRetry {
			rotateProxies(&t.spec)
		}
		delay := *t.spec.RetryDelay
		e.retried.Add(1)
		e.logger.Info("retrying request",
			zap.String("uri", attempt.URI),
			zap.Int("attempt", t.attempts),
			zap.Int("retries_left", *t.spec.Retries),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)
		e.emit(t, progress.StageRetry, func(evt *progress.Event) { evt.Note = cause.Error() })
		e.schedule(t, delay)
		e.release(slot)
		return
	}
	err := &TransportError{URI: attempt.URI, Attempts: t.attempts, Err: cause}
	e.finish(t, &Response{Request: attempt, URL: attempt.URI}, err)
	e.release(slot)
}

// schedule re-submits t after delay. The planned unit of work counted by
// retryOrFail ends once the re-submission is counted.
func (e *Engine) schedule(t *task, delay time.Duration) {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	if e.closed.Load() {
		// Close already swept the timers; finish here instead.
		go e.abandon(t)
		return
	}
	planned := &plannedRetry{}
	planned.timer = time.AfterFunc(delay, func() {
		if !planned.claim() {
			return
		}
		e.retryMu.Lock()
		delete(e.timers, t)
		e.retryMu.Unlock()
		e.tracker.begin()
		e.admit(t)
		e.tracker.end()
	})
	e.timers[t] = planned
}

// abandon finishes a planned retry that will never run.
func (e *Engine) abandon(t *task) {
	e.finish(t, &Response{Request: t.ents.attach(t.spec), URL: t.spec.URI},
		&AdmissionError{Limiter: t.spec.Limiter, Err: ErrEngineClosed})
	e.tracker.end()
}

func rotateProxies(s *Spec) {
	if len(s.Proxies) < 2 {
		return
	}
	head := s.Proxies[0]
	s.Proxies = append(s.Proxies[1:], head)
}
