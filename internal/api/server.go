// Package api exposes the HTTP interface for the fetchqueue service.
package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/config"
	"github.com/JakeFAU/fetchqueue/internal/crawler"
	"github.com/JakeFAU/fetchqueue/internal/metrics"
	"github.com/JakeFAU/fetchqueue/internal/results"
	"github.com/JakeFAU/fetchqueue/internal/store"
)

const maxSubmitBytes = 1 << 20

// Engine is the part of the engine the API drives.
type Engine interface {
	Queue(items ...any) int
	Stats() crawler.Stats
}

// Server wires HTTP handlers to the engine and result store.
type Server struct {
	router  chi.Router
	engine  Engine
	results *results.Store
	idGen   crawler.IDGenerator
	cfg     config.Config
	logger  *zap.Logger
	ready   func() error
}

// NewServer constructs a Server with middleware and routes. events may be nil
// when no event log is configured.
func NewServer(
	engine Engine,
	resultStore *results.Store,
	idGen crawler.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
	events store.EventRepository,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		results: resultStore,
		idGen:   idGen,
		cfg:     cfg,
		logger:  logger,
	}
	metrics.Init()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	eventHandler := NewEventHandler(events, logger)
	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/stats", s.stats)
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", s.submitRequests)
			r.Route("/{request_id}", func(r chi.Router) {
				r.Get("/", s.getRequest)
				r.Get("/events", eventHandler.ListRequestEvents)
			})
		})
	})

	s.router = r
	return s
}

// SetReadiness installs a check consulted by /readyz.
func (s *Server) SetReadiness(check func() error) {
	s.ready = check
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) submitRequests(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	payloads, err := decodeSubmissions(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reqs := make([]crawler.Request, 0, len(payloads))
	for i, p := range payloads {
		req, err := p.toRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("request %d: %v", i, err))
			return
		}
		reqs = append(reqs, req)
	}

	ids := make([]string, 0, len(reqs))
	for i := range reqs {
		id, err := s.idGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate request id")
			return
		}
		if err := s.results.Create(r.Context(), id, reqs[i].URI); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reqs[i].ID = id
		reqs[i].Callback = s.results.Callback(id)
		ids = append(ids, id)
	}
	items := make([]any, len(reqs))
	for i := range reqs {
		items[i] = reqs[i]
	}
	accepted := s.engine.Queue(items...)
	s.logger.Debug("queued requests", zap.Int("accepted", accepted))
	writeJSON(w, http.StatusAccepted, map[string]any{"ids": ids})
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	res, err := s.results.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeSubmissions(raw json.RawMessage) ([]submitRequest, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	var out []submitRequest
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, errors.New("invalid request list")
		}
	} else {
		var single submitRequest
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, errors.New("invalid request")
		}
		out = []submitRequest{single}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one request required")
	}
	return out, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
