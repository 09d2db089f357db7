package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchqueue/internal/progress"
	"github.com/JakeFAU/fetchqueue/internal/store"
)

// StoreSink persists request events via a store.EventRepository. Engine-wide
// events (drain) carry no request and are not persisted.
type StoreSink struct {
	repo   store.EventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the request-scoped events of batch in one call.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	rows := make([]progress.Event, 0, len(batch))
	for _, evt := range batch {
		if evt.RequestID == [16]byte{} {
			continue
		}
		rows = append(rows, evt)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.repo.RecordEvents(ctx, rows); err != nil {
		return fmt.Errorf("record events: %w", err)
	}
	s.logger.Debug("persisted progress events", zap.Int("events", len(rows)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
