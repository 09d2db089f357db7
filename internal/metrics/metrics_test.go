package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, httpRequestDurationSeconds)
}

func TestEngineCollector(t *testing.T) {
	t.Parallel()

	stats := crawler.Stats{
		PoolSize:    3,
		Waiting:     2,
		Available:   1,
		Capacity:    4,
		Outstanding: 7,
		Pending:     map[string]int{"default": 5},
	}
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewEngineCollector(func() crawler.Stats { return stats })))

	expected := `
# HELP fetchqueue_limiter_pending Requests queued per limiter key.
# TYPE fetchqueue_limiter_pending gauge
fetchqueue_limiter_pending{limiter="default"} 5
# HELP fetchqueue_outstanding Outstanding units of work.
# TYPE fetchqueue_outstanding gauge
fetchqueue_outstanding 7
# HELP fetchqueue_pool_waiting Admissions waiting for a pool slot.
# TYPE fetchqueue_pool_waiting gauge
fetchqueue_pool_waiting 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"fetchqueue_limiter_pending", "fetchqueue_outstanding", "fetchqueue_pool_waiting")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 6, count)
}
