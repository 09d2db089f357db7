package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/progress"
)

// execute runs one attempt of t while holding slot. Every path ends in
// exactly one release of slot, after the outcome has been handled.
func (e *Engine) execute(t *task, slot *Slot) {
	t.attempts++
	if t.spec.HTML != "" {
		e.serveStatic(t, slot)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.spec.Timeout)
	defer cancel()

	if err := e.resolveAddress(ctx, t); err != nil {
		e.retryOrFail(t, t.ents.attach(t.spec), err, slot)
		return
	}
	attempt := e.buildAttempt(t)

	var (
		sink io.WriteCloser
		path string
		dst  io.Writer
	)
	if attempt.Download.Enabled() {
		var err error
		path, sink, err = e.openDownload(ctx, attempt)
		if err != nil {
			e.finish(t, &Response{Request: attempt, URL: attempt.URI}, err)
			e.release(slot)
			return
		}
		dst = sink
	}

	started := e.now()
	e.emit(t, progress.StageFetchStart, nil)
	resp, err := e.deps.Transport.Send(ctx, attempt, dst)
	if err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		e.retryOrFail(t, attempt, err, slot)
		return
	}
	if resp == nil {
		resp = &Response{}
	}
	resp.Request = attempt
	if resp.URL == "" {
		resp.URL = attempt.URI
	}
	e.emit(t, progress.StageFetchDone, func(evt *progress.Event) {
		evt.StatusClass = progress.ClassifyStatus(resp.StatusCode)
		evt.Bytes = int64(len(resp.Body))
		evt.Dur = e.now().Sub(started)
	})

	if sink != nil {
		if err := sink.Close(); err != nil {
			e.finish(t, resp, &DownloadError{Path: path, Err: err})
		} else {
			resp.DownloadPath = path
			e.finish(t, resp, nil)
		}
		e.release(slot)
		return
	}

	err = e.postProcess(context.Background(), resp)
	e.finish(t, resp, err)
	e.release(slot)
}

func (e *Engine) serveStatic(t *task, slot *Slot) {
	attempt := t.ents.attach(t.spec)
	resp := &Response{
		Request:    attempt,
		URL:        attempt.URI,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(attempt.HTML),
	}
	err := e.postProcess(context.Background(), resp)
	e.finish(t, resp, err)
	e.release(slot)
}

// resolveAddress runs the lazy address resolver once per logical request.
func (e *Engine) resolveAddress(ctx context.Context, t *task) error {
	resolve := t.ents.resolver()
	if resolve == nil || t.spec.URI != "" {
		return nil
	}
	uri, err := resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve address: %w", err)
	}
	t.spec.URI = uri
	return nil
}

// buildAttempt clones the logical request and resolves everything the
// transport needs, then hands the attempt to the pre-request hooks.
func (e *Engine) buildAttempt(t *task) *Request {
	if len(t.spec.UserAgents) > 0 && *t.spec.RotateUA {
		head := t.spec.UserAgents[0]
		t.spec.UserAgents = append(t.spec.UserAgents[1:], head)
		t.spec.UserAgent = head
	}
	attempt := t.ents.attach(t.spec)
	if attempt.Headers == nil {
		attempt.Headers = http.Header{}
	}
	switch {
	case attempt.UserAgent != "":
	case len(attempt.UserAgents) > 0:
		attempt.UserAgent = attempt.UserAgents[0]
	default:
		attempt.UserAgent = e.agents.next(*attempt.RotateUA)
	}
	if attempt.UserAgent != "" && attempt.Headers.Get("User-Agent") == "" {
		attempt.Headers.Set("User-Agent", attempt.UserAgent)
	}
	if attempt.Referer != "" {
		attempt.Headers.Set("Referer", attempt.Referer)
	}
	if attempt.Proxy == "" && len(attempt.Proxies) > 0 {
		attempt.Proxy = attempt.Proxies[0]
	}

	if e.opts.PreRequest != nil {
		e.opts.PreRequest(attempt)
	}
	e.listenersMu.RLock()
	listeners := append([]func(*Request){}, e.requestListeners...)
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(attempt)
	}
	e.logger.Debug("dispatching request",
		zap.String("id", t.id),
		zap.String("method", attempt.Method),
		zap.String("uri", attempt.URI),
		zap.Int("attempt", t.attempts),
	)
	return attempt
}

func siteOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
