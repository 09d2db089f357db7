// Package httpfetcher implements the engine transport over net/http.
package httpfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

const tracerName = "github.com/JakeFAU/fetchqueue/internal/fetcher/http"

// Config controls connection behavior shared by every request.
type Config struct {
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	MaxIdleConns        int
	// MaxBodyBytes caps buffered bodies; 0 means unlimited. Download sinks
	// are never capped.
	MaxBodyBytes int64
	// FollowRedirects disables redirect handling when false.
	FollowRedirects bool
}

// DefaultConfig mirrors the crawler's connection pooling settings.
func DefaultConfig() Config {
	return Config{
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        100,
		FollowRedirects:     true,
	}
}

// Transport sends engine attempts over HTTP. It keeps one connection pool per
// proxy so concurrent requests through different proxies never share state.
type Transport struct {
	cfg    Config
	base   *http.Transport
	tracer trace.Tracer
	logger *zap.Logger

	mu      sync.Mutex
	proxied map[string]*http.Transport
}

var _ crawler.Transport = (*Transport)(nil)

// New builds a Transport. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.TLSHandshakeTimeout <= 0 {
		cfg.TLSHandshakeTimeout = 15 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	return &Transport{
		cfg:     cfg,
		base:    newHTTPTransport(cfg),
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		proxied: make(map[string]*http.Transport),
	}
}

// Send executes req. Every HTTP status is a response; only network, timeout
// and body-read failures are errors. When sink is non-nil the body is
// streamed into it instead of being buffered.
func (t *Transport) Send(ctx context.Context, req *crawler.Request, sink io.Writer) (*crawler.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	client, err := t.client(req, httpReq.URL)
	if err != nil {
		return nil, err
	}

	ctx, span := t.tracer.Start(ctx, "fetch "+httpReq.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", httpReq.Method),
			attribute.String("url.full", httpReq.URL.String()),
			attribute.String("fetchqueue.request_id", req.ID),
		),
	)
	defer span.End()
	httpReq = httpReq.WithContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("send %s %s: %w", httpReq.Method, httpReq.URL.Redacted(), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	out := &crawler.Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}
	if sink != nil {
		n, err := io.Copy(sink, resp.Body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream body")
			return nil, fmt.Errorf("stream body: %w", err)
		}
		span.SetAttributes(attribute.Int64("http.response.body.size", n))
		return out, nil
	}
	body, err := t.readBody(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.body.size", len(body)))
	out.Body = body
	return out, nil
}

func (t *Transport) readBody(r io.Reader) ([]byte, error) {
	if t.cfg.MaxBodyBytes <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return body, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, t.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > t.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", t.cfg.MaxBodyBytes)
	}
	return body, nil
}

// client assembles a client for one attempt. A cookie value gets a fresh jar
// scoped to the request address; otherwise the shared jar is used as is.
func (t *Transport) client(req *crawler.Request, target *url.URL) (*http.Client, error) {
	rt, err := t.roundTripper(req.Proxy)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: rt, Jar: req.Jar}
	if req.Cookie != "" {
		jar, err := cookieJar(target, req.Cookie)
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}
	if !t.cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}

func (t *Transport) roundTripper(proxy string) (http.RoundTripper, error) {
	if proxy == "" {
		return t.base, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if rt, ok := t.proxied[proxy]; ok {
		return rt, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy: %w", err)
	}
	rt := newHTTPTransport(t.cfg)
	rt.Proxy = http.ProxyURL(proxyURL)
	t.proxied[proxy] = rt
	return rt, nil
}

// CloseIdleConnections closes idle connections in every pool.
func (t *Transport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rt := range t.proxied {
		rt.CloseIdleConnections()
	}
}

func buildRequest(ctx context.Context, req *crawler.Request) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	body, contentType := payload(req)
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URI, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if host := httpReq.Header.Get("Host"); host != "" {
		httpReq.Host = host
		httpReq.Header.Del("Host")
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

func payload(req *crawler.Request) (io.Reader, string) {
	switch {
	case len(req.JSONBody) > 0:
		return bytes.NewReader(req.JSONBody), "application/json"
	case len(req.Form) > 0:
		return strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded"
	case len(req.Body) > 0:
		return bytes.NewReader(req.Body), ""
	default:
		return nil, ""
	}
}

func cookieJar(target *url.URL, value string) (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	cookies, err := http.ParseCookie(value)
	if err != nil {
		return nil, fmt.Errorf("parse cookie: %w", err)
	}
	jar.SetCookies(target, cookies)
	return jar, nil
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          cfg.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
	}
}
