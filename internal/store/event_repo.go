package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/fetchqueue/internal/progress"
)

// ErrNotFound signals that no events exist for the requested ID.
var ErrNotFound = errors.New("request events not found")

// EventRecord is one persisted lifecycle event.
type EventRecord struct {
	RequestID   uuid.UUID
	Stage       progress.Stage
	At          time.Time
	Limiter     string
	Site        string
	URL         string
	Attempt     int
	Bytes       int64
	StatusClass string
	Duration    time.Duration
	Note        string
}

// EventRepository persists lifecycle events. It is an audit log, not
// resumable crawl state.
type EventRepository interface {
	// RecordEvents appends a batch of events in one round trip.
	RecordEvents(ctx context.Context, batch []progress.Event) error
	// ListRequestEvents returns the events of one request, oldest first, or ErrNotFound.
	ListRequestEvents(ctx context.Context, requestID uuid.UUID, limit int) ([]EventRecord, error)
}
