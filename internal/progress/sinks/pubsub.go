package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/progress"
)

// Publisher pushes JSON payloads to a message bus.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// PublisherSink forwards terminal and drain events to a Publisher, one
// message per event.
type PublisherSink struct {
	pub    Publisher
	logger *zap.Logger
}

// NewPublisherSink constructs a PublisherSink.
func NewPublisherSink(pub Publisher, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, logger: logger}
}

type eventMessage struct {
	RequestID   string        `json:"request_id,omitempty"`
	Stage       string        `json:"stage"`
	TS          time.Time     `json:"ts"`
	Limiter     string        `json:"limiter,omitempty"`
	URL         string        `json:"url,omitempty"`
	Attempt     int           `json:"attempt,omitempty"`
	StatusClass string        `json:"status_class,omitempty"`
	Bytes       int64         `json:"bytes,omitempty"`
	Dur         time.Duration `json:"dur_ns,omitempty"`
	Note        string        `json:"note,omitempty"`
}

// Consume publishes REQUEST_DONE, REQUEST_ERROR and ENGINE_DRAIN events.
// Failures are joined and returned after the whole batch is attempted.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		kind := "request"
		switch evt.Stage {
		case progress.StageDone, progress.StageError:
		case progress.StageDrain:
			kind = "drain"
		default:
			continue
		}
		msg := eventMessage{
			Stage:       string(evt.Stage),
			TS:          evt.TS,
			Limiter:     evt.Limiter,
			URL:         evt.URL,
			Attempt:     evt.Attempt,
			StatusClass: string(evt.StatusClass),
			Bytes:       evt.Bytes,
			Dur:         evt.Dur,
			Note:        evt.Note,
		}
		if evt.RequestID != [16]byte{} {
			msg.RequestID = uuid.UUID(evt.RequestID).String()
		}
		if _, err := s.pub.Publish(ctx, kind, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s event: %w", evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
