package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "fetchqueue-test", recorder)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	_, span := otel.Tracer("test").Start(context.Background(), "unit")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "unit", ended[0].Name())

	var found bool
	for _, attr := range ended[0].Resource().Attributes() {
		if string(attr.Key) == "service.name" && attr.Value.AsString() == "fetchqueue-test" {
			found = true
		}
	}
	require.True(t, found)
}

func TestNewCloudTraceProcessorRequiresProject(t *testing.T) {
	t.Parallel()

	processor, err := NewCloudTraceProcessor("")
	require.Error(t, err)
	require.Nil(t, processor)
}
