package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fetchqueue/internal/progress"
	"github.com/JakeFAU/fetchqueue/internal/publisher/memory"
)

func TestPublisherSinkForwardsTerminalEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublisherSink(pub, nil)
	id := uuid.New()
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RequestID: [16]byte(id), TS: now, Stage: progress.StageQueued},
		{RequestID: [16]byte(id), TS: now, Stage: progress.StageDone, StatusClass: progress.Status2xx, Bytes: 10},
		{TS: now, Stage: progress.StageDrain},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "request", msgs[0].Kind)
	payload, ok := msgs[0].Payload.(eventMessage)
	require.True(t, ok)
	require.Equal(t, id.String(), payload.RequestID)
	require.Equal(t, "drain", msgs[1].Kind)
}

func TestPublisherSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("unavailable"))
	sink := NewPublisherSink(pub, nil)

	err := sink.Consume(context.Background(), []progress.Event{
		{RequestID: [16]byte(uuid.New()), TS: time.Now(), Stage: progress.StageError, Note: "timeout"},
		{TS: time.Now(), Stage: progress.StageDrain},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "REQUEST_ERROR")
	require.Contains(t, err.Error(), "ENGINE_DRAIN")
}
