package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/config"
	"github.com/JakeFAU/fetchqueue/internal/crawler"
	"github.com/JakeFAU/fetchqueue/internal/results"
)

func TestServer_SubmitSingleRequest(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	server := newTestServer(engine, &fakeIDGen{ids: []string{"req-1"}}, config.Config{})

	body := []byte(`{"url":"https://example.com/a","priority":2,"retries":1,"retry_delay":"2s","download":"hashed"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"req-1"}, resp["ids"])

	queued := engine.queued()
	require.Len(t, queued, 1)
	got := queued[0]
	assert.Equal(t, "req-1", got.ID)
	assert.Equal(t, "https://example.com/a", got.URI)
	require.NotNil(t, got.Priority)
	assert.Equal(t, 2, *got.Priority)
	require.NotNil(t, got.RetryDelay)
	assert.Equal(t, 2*time.Second, *got.RetryDelay)
	assert.Equal(t, crawler.DownloadHashed, got.Download.Kind)
	require.NotNil(t, got.Callback)
}

func TestServer_SubmitBatchAndSettle(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	server := newTestServer(engine, &fakeIDGen{ids: []string{"a", "b"}}, config.Config{})

	body := []byte(`[{"uri":"https://example.com/1"},{"html":"<p>hi</p>","document":"default"}]`)
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	queued := engine.queued()
	require.Len(t, queued, 2)
	assert.Equal(t, crawler.DocumentDefault, queued[1].Document.Kind)

	queued[0].Callback(&crawler.Response{Request: &queued[0], StatusCode: 200, Body: []byte("ok")}, nil)
	queued[1].Callback(&crawler.Response{Request: &queued[1]}, errors.New("boom"))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/requests/a", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var first results.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, results.StatusSucceeded, first.Status)
	assert.Equal(t, 200, first.StatusCode)
	assert.Equal(t, 2, first.Bytes)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/requests/b", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var second results.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, results.StatusFailed, second.Status)
	assert.Equal(t, "boom", second.Error)
}

func TestServer_SubmitRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{`},
		{name: "empty list", body: `[]`},
		{name: "no address", body: `{"method":"GET"}`},
		{name: "relative uri", body: `{"uri":"/just/a/path"}`},
		{name: "bad duration", body: `{"uri":"https://example.com","timeout":"soon"}`},
		{name: "bad encoding", body: `{"uri":"https://example.com","encoding":"latin"}`},
		{name: "file download", body: `{"uri":"https://example.com","download":"/etc/passwd"}`},
		{name: "negative retries", body: `{"uri":"https://example.com","retries":-1}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine := &fakeEngine{}
			server := newTestServer(engine, &fakeIDGen{}, config.Config{})
			req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Empty(t, engine.queued())
		})
	}
}

func TestServer_GetUnknownRequest(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeEngine{}, &fakeIDGen{}, config.Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/requests/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{stats: crawler.Stats{PoolSize: 3, Capacity: 8, Pending: map[string]int{"default": 1}}}
	server := newTestServer(engine, &fakeIDGen{}, config.Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got crawler.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 3, got.PoolSize)
	require.Equal(t, 8, got.Capacity)
	require.Equal(t, 1, got.Pending["default"])
}

func TestServer_Readiness(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeEngine{}, &fakeIDGen{}, config.Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	server.SetReadiness(func() error { return errors.New("engine closed") })
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "engine closed")
}

func TestServer_EventsWithoutRepository(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeEngine{}, &fakeIDGen{}, config.Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/requests/7c9e6679-7425-40de-944b-e07fc1f90ae7/events", nil)
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := newTestServer(&fakeEngine{}, &fakeIDGen{}, cfg)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer(&fakeEngine{}, &fakeIDGen{}, config.Config{}).Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeEngine struct {
	mu    sync.Mutex
	items []crawler.Request
	stats crawler.Stats
}

func (f *fakeEngine) Queue(items ...any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		if req, ok := item.(crawler.Request); ok {
			f.items = append(f.items, req)
		}
	}
	return len(items)
}

func (f *fakeEngine) Stats() crawler.Stats {
	return f.stats
}

func (f *fakeEngine) queued() []crawler.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.Request(nil), f.items...)
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	n   int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		f.n++
		return fmt.Sprintf("id-%d", f.n), nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(engine Engine, ids crawler.IDGenerator, cfg config.Config) *Server {
	store := results.New(&fakeClock{now: time.Unix(100, 0)})
	return NewServer(engine, store, ids, cfg, zap.NewNop(), nil)
}
