package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/clock/system"
	md5hash "github.com/JakeFAU/fetchqueue/internal/hash/md5"
	uuidgen "github.com/JakeFAU/fetchqueue/internal/id/uuid"
	"github.com/JakeFAU/fetchqueue/internal/progress"
	"github.com/JakeFAU/fetchqueue/internal/sniff"
)

// Deps are the capabilities the engine drives. Transport is required; every
// other field has a default or is optional.
type Deps struct {
	Transport Transport
	// Parser produces default documents; goquery is used when nil.
	Parser DocumentParser
	// Environment produces documents under full environment emulation.
	Environment DocumentParser
	Seen        SeenStore
	Charset     CharsetDetector
	Downloads   DownloadStore
	Hasher      Hasher
	IDs         IDGenerator
	Clock       Clock
	Events      progress.Emitter
}

// Engine schedules requests through the limiter cluster and slot pool and
// delivers each outcome exactly once. Callbacks may run concurrently.
type Engine struct {
	opts   Options
	deps   Deps
	logger *zap.Logger

	pool     *Pool
	limiters *limiterCluster
	tracker  *tracker
	agents   *rotator

	listenersMu      sync.RWMutex
	requestListeners []func(*Request)
	drainListeners   []func()

	retryMu sync.Mutex
	timers  map[*task]*plannedRetry
	closed  atomic.Bool

	queued    atomic.Int64
	skipped   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	released  atomic.Int64
}

// task is one logical request. spec is mutated only by retries and user
// agent rotation; attempts are built from clones of it.
type task struct {
	id       string
	eventID  [16]byte
	spec     Spec
	ents     entities
	callback Callback
	attempts int
	once     sync.Once
}

// New constructs an Engine.
func New(opts Options, deps Deps, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	if deps.Parser == nil {
		deps.Parser = markupParser{}
	}
	if deps.Charset == nil {
		deps.Charset = sniff.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = md5hash.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuidgen.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	e := &Engine{
		opts:   opts,
		deps:   deps,
		logger: logger,
		pool:   NewPool(opts.MaxConnections, opts.PriorityRange),
		agents: newRotator(opts.UserAgents, opts.UserAgent),
		timers: make(map[*task]*plannedRetry),
	}
	e.limiters = newLimiterCluster(e.pool, opts, logger)
	e.tracker = newTracker(e.notifyDrain)
	return e
}

// Queue submits addresses, requests, or arbitrarily nested slices of them.
// Invalid entries are logged and dropped. It returns the number of accepted
// requests.
func (e *Engine) Queue(items ...any) int {
	reqs := collect(items, e.logger)
	if len(reqs) == 0 {
		return 0
	}
	// Hold the counter for the whole batch so early finishers cannot
	// signal a drain before the rest are counted.
	e.tracker.begin()
	defer e.tracker.end()
	for _, req := range reqs {
		e.accept(req)
	}
	return len(reqs)
}

// OnRequest registers a listener that sees every attempt just before dispatch.
func (e *Engine) OnRequest(fn func(req *Request)) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.requestListeners = append(e.requestListeners, fn)
}

// OnDrain registers a listener that runs each time the engine becomes idle.
func (e *Engine) OnDrain(fn func()) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.drainListeners = append(e.drainListeners, fn)
}

// Wait blocks until no work is outstanding or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	return e.tracker.wait(ctx)
}

// Close stops accepting work. Pending admissions and planned retries fail
// with ErrEngineClosed; in-flight transport calls run to completion.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.retryMu.Lock()
	timers := e.timers
	e.timers = make(map[*task]*plannedRetry)
	e.retryMu.Unlock()
	for t, planned := range timers {
		planned.timer.Stop()
		if planned.claim() {
			e.abandon(t)
		}
	}
	e.limiters.close()
}

func (e *Engine) accept(req Request) {
	normErr := e.opts.normalize(&req)
	spec, ents, callback := detach(req)
	t := &task{spec: spec, ents: ents, callback: callback}
	t.id, t.eventID = e.newID(spec.ID)
	t.spec.ID = t.id

	e.tracker.begin()
	e.queued.Add(1)
	if normErr != nil {
		e.finish(t, &Response{Request: ents.attach(t.spec)}, normErr)
		e.release(nil)
		return
	}
	if e.isDuplicate(t) {
		e.skipped.Add(1)
		e.emit(t, progress.StageSkipped, nil)
		e.logger.Debug("skipping duplicate request", zap.String("uri", t.spec.URI))
		e.release(nil)
		return
	}
	e.emit(t, progress.StageQueued, nil)
	e.admit(t)
}

func (e *Engine) isDuplicate(t *task) bool {
	if !*t.spec.SkipDuplicates {
		return false
	}
	if e.deps.Seen == nil {
		e.logger.Warn("duplicate skipping requested without a seen store", zap.String("uri", t.spec.URI))
		return false
	}
	seen, err := e.deps.Seen.Exists(t.spec)
	if err != nil {
		e.logger.Warn("seen store lookup failed", zap.String("uri", t.spec.URI), zap.Error(err))
		return false
	}
	return seen
}

func (e *Engine) admit(t *task) {
	limiter := t.spec.Limiter
	e.limiters.submit(limiter, *t.spec.Priority, func(slot *Slot, err error) {
		if err != nil {
			e.finish(t, &Response{Request: t.ents.attach(t.spec)}, &AdmissionError{Limiter: limiter, Err: err})
			e.release(nil)
			return
		}
		e.logger.Debug("acquired slot", zap.String("limiter", limiter), zap.Int("slot", slot.ID()))
		e.execute(t, slot)
	})
}

// finish delivers the outcome of a logical request exactly once.
func (e *Engine) finish(t *task, resp *Response, err error) {
	t.once.Do(func() {
		if err != nil {
			e.failed.Add(1)
			e.emit(t, progress.StageError, func(evt *progress.Event) { evt.Note = err.Error() })
		} else {
			e.succeeded.Add(1)
			e.emit(t, progress.StageDone, func(evt *progress.Event) {
				evt.StatusClass = progress.ClassifyStatus(resp.StatusCode)
				evt.Bytes = int64(len(resp.Body))
			})
		}
		if t.callback == nil {
			if err != nil {
				e.logger.Warn("request failed", zap.String("uri", t.spec.URI), zap.Error(err))
			}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("request callback panicked", zap.String("uri", t.spec.URI), zap.Any("panic", r))
			}
		}()
		t.callback(resp, err)
	})
}

// release ends one unit of outstanding work, returning slot when present.
func (e *Engine) release(slot *Slot) {
	if slot != nil {
		e.pool.Release(slot)
	}
	e.released.Add(1)
	e.tracker.end()
}

func (e *Engine) notifyDrain() {
	e.logger.Debug("queue drained")
	if e.deps.Events != nil {
		e.deps.Events.Emit(progress.Event{TS: e.deps.Clock.Now().UTC(), Stage: progress.StageDrain})
	}
	if e.opts.OnDrain != nil {
		e.opts.OnDrain()
	}
	e.listenersMu.RLock()
	listeners := append([]func(){}, e.drainListeners...)
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func (e *Engine) emit(t *task, stage progress.Stage, fill func(*progress.Event)) {
	if e.deps.Events == nil {
		return
	}
	evt := progress.Event{
		RequestID: t.eventID,
		TS:        e.deps.Clock.Now().UTC(),
		Stage:     stage,
		Limiter:   t.spec.Limiter,
		Site:      siteOf(t.spec.URI),
		URL:       t.spec.URI,
		Attempt:   t.attempts,
	}
	if fill != nil {
		fill(&evt)
	}
	e.deps.Events.Emit(evt)
}

// newID keeps a caller-assigned ID and generates one otherwise.
func (e *Engine) newID(assigned string) (string, [16]byte) {
	if assigned != "" {
		return assigned, progress.ParseRequestID(assigned)
	}
	id, err := e.deps.IDs.NewID()
	if err != nil {
		e.logger.Warn("request id generation failed", zap.Error(err))
		return "", [16]byte{}
	}
	return id, progress.ParseRequestID(id)
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	PoolSize    int            `json:"pool_size"`
	Waiting     int            `json:"waiting"`
	Available   int            `json:"available"`
	Capacity    int            `json:"capacity"`
	Outstanding int            `json:"outstanding"`
	Pending     map[string]int `json:"pending"`
	Queued      int64          `json:"queued"`
	Skipped     int64          `json:"skipped"`
	Succeeded   int64          `json:"succeeded"`
	Failed      int64          `json:"failed"`
	Retried     int64          `json:"retried"`
	Released    int64          `json:"released"`
}

// Stats reports pool occupancy and lifetime counters.
func (e *Engine) Stats() Stats {
	return Stats{
		PoolSize:    e.pool.Size(),
		Waiting:     e.pool.Waiting(),
		Available:   e.pool.Available(),
		Capacity:    e.pool.Capacity(),
		Outstanding: e.tracker.count(),
		Pending:     e.limiters.pending(),
		Queued:      e.queued.Load(),
		Skipped:     e.skipped.Load(),
		Succeeded:   e.succeeded.Load(),
		Failed:      e.failed.Load(),
		Retried:     e.retried.Load(),
		Released:    e.released.Load(),
	}
}

// Options returns the effective engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// rotator hands out user agents from an engine-owned list.
type rotator struct {
	mu     sync.Mutex
	agents []string
}

func newRotator(agents []string, fallback string) *rotator {
	list := cloneStrings(agents)
	if len(list) == 0 && fallback != "" {
		list = []string{fallback}
	}
	return &rotator{agents: list}
}

func (r *rotator) next(rotate bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.agents) == 0 {
		return ""
	}
	ua := r.agents[0]
	if rotate {
		r.agents = append(r.agents[1:], ua)
	}
	return ua
}

func (e *Engine) now() time.Time {
	return e.deps.Clock.Now()
}
