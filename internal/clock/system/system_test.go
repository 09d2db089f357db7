package system_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fetchqueue/internal/clock/system"
	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

var _ crawler.Clock = system.New()

func TestClockStampsUTC(t *testing.T) {
	t.Parallel()

	clk := system.New()
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	assert.WithinRange(t, got, before, after)
	_, offset := got.Zone()
	assert.Zero(t, offset)
}

func TestClockIsNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := system.New()
	prev := clk.Now()
	for i := 0; i < 100; i++ {
		next := clk.Now()
		require.False(t, next.Before(prev), "clock went backwards: %v after %v", next, prev)
		prev = next
	}
}
