package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryAcquireOnlyOnceWithinTTL(t *testing.T) {
	g := NewMemory()
	ok, err := g.Acquire(context.Background(), "k1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.Acquire(context.Background(), "k1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryAcquireReclaimsAfterExpiry(t *testing.T) {
	g := NewMemory()
	ok, err := g.Acquire(context.Background(), "k1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = g.Acquire(context.Background(), "k1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReviewDebounceKeyAndConsolidationGuardKeyAreDistinct(t *testing.T) {
	require.NotEqual(t, ReviewDebounceKey("ep1", "2026-07-30"), ConsolidationGuardKey("ep1"))
}
