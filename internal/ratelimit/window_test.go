package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriflow/nutrition-core/internal/model"
)

func testLimiter(maxRequests int, window time.Duration) *Limiter {
	return New(map[string]WindowConfig{
		"openfood": {Window: window, MaxRequests: maxRequests},
	}, WindowConfig{})
}

func TestLimiter_AdmitsExactlyMaxInsideWindow(t *testing.T) {
	l := testLimiter(3, time.Minute)

	// Expired deadline: an exhausted window must fail instead of waiting.
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(10*time.Millisecond))
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, "openfood", "user-1"))
	}

	err := l.Acquire(ctx, "openfood", "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestLimiter_KeysAreIndependentPerUser(t *testing.T) {
	l := testLimiter(1, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(ctx, "openfood", "user-1"))
	require.NoError(t, l.Acquire(ctx, "openfood", "user-2"))
	assert.Error(t, l.Acquire(ctx, "openfood", "user-1"))
}

func TestLimiter_WaitsForWindowReset(t *testing.T) {
	l := testLimiter(1, 30*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Acquire(ctx, "openfood", ""))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "openfood", ""))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLimiter_NoLostUpdatesUnderConcurrency(t *testing.T) {
	l := testLimiter(5, time.Minute)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(5*time.Millisecond))
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx, "openfood", "user-1"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, admitted)
}

func TestLimiter_SnapshotRestore(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := testLimiter(10, time.Minute).WithNow(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "openfood", "user-1"))
	require.NoError(t, l.Acquire(ctx, "openfood", "user-1"))

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "openfood", snap[0].APIName)
	assert.Equal(t, 2, snap[0].RequestsCount)
	assert.Equal(t, 1, snap[0].WindowSizeMinutes)

	restored := testLimiter(10, time.Minute).WithNow(func() time.Time { return now })
	restored.Restore(snap)
	got := restored.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].RequestsCount)

	// Elapsed windows are dropped on restore.
	later := testLimiter(10, time.Minute).WithNow(func() time.Time { return now.Add(2 * time.Minute) })
	later.Restore(snap)
	assert.Empty(t, later.Snapshot())
}

func TestLimiter_RestoredStateCountsTowardQuota(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := testLimiter(2, time.Minute).WithNow(func() time.Time { return now })
	l.Restore([]model.RateLimitState{{
		APIName:       "openfood",
		UserID:        "user-1",
		WindowStart:   now.Add(-10 * time.Second),
		RequestsCount: 2,
	}})

	ctx, cancel := context.WithDeadline(context.Background(), now.Add(time.Millisecond))
	defer cancel()
	err := l.Acquire(ctx, "openfood", "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
}
