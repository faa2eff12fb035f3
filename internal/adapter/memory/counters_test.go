package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementAndGetAccumulatesWithinBucket(t *testing.T) {
	c := NewCounters()
	fixed := time.Date(2026, 3, 1, 12, 30, 10, 0, time.UTC)
	c.Now = func() time.Time { return fixed }
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementAndGet(ctx, "user:abc:orders", "count", 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// A different field keeps its own tally in the same bucket.
	got, err := c.IncrementAndGet(ctx, "user:abc:orders", "cancel_count", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestIncrementAndGetStartsFreshBucketEachMinute(t *testing.T) {
	c := NewCounters()
	now := time.Date(2026, 3, 1, 12, 30, 59, 0, time.UTC)
	c.Now = func() time.Time { return now }
	ctx := context.Background()

	got, err := c.IncrementAndGet(ctx, "k", "count", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	now = now.Add(2 * time.Second)
	got, err = c.IncrementAndGet(ctx, "k", "count", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestCurrentCountSumsOpenWindows(t *testing.T) {
	c := NewCounters()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.IncrementAndGet(ctx, "k", "count", 5)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = c.IncrementAndGet(ctx, "k", "count", 5)
	require.NoError(t, err)

	sum, err := c.CurrentCount(ctx, "k", "count")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum)

	// Six minutes on, both five-minute windows have closed.
	now = now.Add(6 * time.Minute)
	sum, err = c.CurrentCount(ctx, "k", "count")
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestCountInWindowIgnoresOldBuckets(t *testing.T) {
	c := NewCounters()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.IncrementAndGet(ctx, "k", "count", 1)
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, err = c.IncrementAndGet(ctx, "k", "count", 1)
	require.NoError(t, err)

	recent, err := c.CountInWindow(ctx, "k", "count", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recent)

	all, err := c.CountInWindow(ctx, "k", "count", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all)
}

func TestCleanupExpiredDropsClosedWindows(t *testing.T) {
	c := NewCounters()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.IncrementAndGet(ctx, "old", "count", 1)
	require.NoError(t, err)

	now = now.Add(3 * time.Hour)
	_, err = c.IncrementAndGet(ctx, "live", "count", 1)
	require.NoError(t, err)

	deleted, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	sum, err := c.CountInWindow(ctx, "live", "count", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum)
}
