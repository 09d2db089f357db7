package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/store"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	eventsTimeout     = 3 * time.Second
)

// EventHandler exposes the persisted lifecycle log of a request.
type EventHandler struct {
	repo    store.EventRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewEventHandler wires the repository and logger. repo may be nil.
func NewEventHandler(repo store.EventRepository, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		repo:    repo,
		timeout: eventsTimeout,
		logger:  logger,
	}
}

// ListRequestEvents handles GET /v1/requests/{request_id}/events?limit=. It
// returns {"events": [...]} on success, 400 for malformed IDs or limits, 404
// when the repository reports store.ErrNotFound, 503 when no repository is
// configured, or 500 otherwise.
func (h *EventHandler) ListRequestEvents(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "event repository unavailable")
		return
	}
	requestID, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.repo.ListRequestEvents(ctx, requestID, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request events not found")
			return
		}
		h.logger.Error("list request events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list request events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": toEventDTOs(records),
	})
}

func parseRequestID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "request_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("request_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid request_id")
	}
	return id, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func toEventDTOs(in []store.EventRecord) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, eventDTO{
			Stage:       string(rec.Stage),
			At:          rec.At,
			Limiter:     rec.Limiter,
			Site:        rec.Site,
			URL:         rec.URL,
			Attempt:     rec.Attempt,
			Bytes:       rec.Bytes,
			StatusClass: rec.StatusClass,
			DurationMs:  rec.Duration.Milliseconds(),
			Note:        rec.Note,
		})
	}
	return out
}

type eventDTO struct {
	Stage       string    `json:"stage"`
	At          time.Time `json:"at"`
	Limiter     string    `json:"limiter,omitempty"`
	Site        string    `json:"site,omitempty"`
	URL         string    `json:"url,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Bytes       int64     `json:"bytes,omitempty"`
	StatusClass string    `json:"status_class,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Note        string    `json:"note,omitempty"`
}
