package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fetchqueue/internal/config"
	"github.com/JakeFAU/fetchqueue/internal/results"
	localstorage "github.com/JakeFAU/fetchqueue/internal/storage/local"
)

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		HTTP:    config.HTTPConfig{FollowRedirects: true},
		Logging: config.LoggingConfig{Level: "error"},
		Storage: config.StorageConfig{Backend: "none"},
	}
}

func TestBuildServesSubmittedRequests(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><head><title>Origin</title></head><body>hi</body></html>"))
	}))
	defer origin.Close()

	ctx := context.Background()
	app, err := Build(ctx, testConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(ctx)) }()

	body := fmt.Sprintf(`[{"uri":%q},{"html":"<title>Static</title>"}]`, origin.URL)
	ids := submit(t, app.Handler(), body)
	require.Len(t, ids, 2)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app.Engine().Wait(waitCtx))

	fetched := lookup(t, app.Handler(), ids[0])
	require.Equal(t, results.StatusSucceeded, fetched.Status)
	require.Equal(t, http.StatusOK, fetched.StatusCode)
	require.Equal(t, "Origin", fetched.Title)

	static := lookup(t, app.Handler(), ids[1])
	require.Equal(t, results.StatusSucceeded, static.Status)
	require.Equal(t, "Static", static.Title)
}

func TestBuildWritesHashedDownloads(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer origin.Close()

	dir := t.TempDir()
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: "local", Local: localstorage.Config{BaseDir: dir}}

	ctx := context.Background()
	app, err := Build(ctx, cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(ctx)) }()

	ids := submit(t, app.Handler(), fmt.Sprintf(`{"uri":%q,"download":"hashed"}`, origin.URL))
	require.Len(t, ids, 1)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, app.Engine().Wait(waitCtx))

	res := lookup(t, app.Handler(), ids[0])
	require.Equal(t, results.StatusSucceeded, res.Status)
	require.NotEmpty(t, res.DownloadPath)

	data, err := os.ReadFile(filepath.Join(dir, res.DownloadPath))
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestBuildRejectsUnknownLogLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Level = "chatty"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "logger init failed")
}

func TestBuildRejectsTracingWithoutProject(t *testing.T) {
	cfg := testConfig()
	cfg.OTel.Enabled = true
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "trace exporter")
}

func submit(t *testing.T, h http.Handler, body string) []string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.IDs
}

func lookup(t *testing.T, h http.Handler, id string) results.Result {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/requests/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res results.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}
