package syncengine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_TryConsume(t *testing.T) {
	t.Parallel()

	t.Run("burst capacity enforced before refill", func(t *testing.T) {
		t.Parallel()

		// Frozen clock: 250 attempts within one instant must yield exactly
		// 200 permits and 50 denials.
		bucket := NewTokenBucket(200, 100)
		frozen := time.Now()
		bucket.now = func() time.Time { return frozen }

		allowed := 0
		for _i := 0; _i < 250; _i++ {
			ok, err := bucket.TryConsume(context.Background())
			require.NoError(t, err)
			if ok {
				allowed++
			}
		}
		assert.Equal(t, 200, allowed)
	})

	t.Run("refills at configured rate", func(t *testing.T) {
		t.Parallel()

		bucket := NewTokenBucket(200, 100)
		now := time.Now()
		bucket.now = func() time.Time { return now }

		// Drain the bucket completely.
		for _i := 0; _i < 200; _i++ {
			ok, err := bucket.TryConsume(context.Background())
			require.NoError(t, err)
			require.True(t, ok)
		}
		ok, err := bucket.TryConsume(context.Background())
		require.NoError(t, err)
		require.False(t, ok)

		// 100 tokens/s means 500ms buys back 50 tokens.
		now = now.Add(500 * time.Millisecond)
		allowed := 0
		for _i := 0; _i < 100; _i++ {
			ok, err := bucket.TryConsume(context.Background())
			require.NoError(t, err)
			if ok {
				allowed++
			}
		}
		assert.Equal(t, 50, allowed)
	})

	t.Run("never exceeds capacity after long idle", func(t *testing.T) {
		t.Parallel()

		bucket := NewTokenBucket(10, 100)
		now := time.Now()
		bucket.now = func() time.Time { return now }

		now = now.Add(time.Hour)
		ok, err := bucket.TryConsume(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		assert.InDelta(t, 9, bucket.Tokens(), 0.001)
	})

	t.Run("no torn reads under concurrency", func(t *testing.T) {
		t.Parallel()

		bucket := NewTokenBucket(100, 1)
		frozen := time.Now()
		bucket.mu.Lock()
		bucket.now = func() time.Time { return frozen }
		bucket.mu.Unlock()

		var allowed atomic.Int64
		var wg sync.WaitGroup
		for _i := 0; _i < 50; _i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _i := 0; _i < 10; _i++ {
					ok, err := bucket.TryConsume(context.Background())
					assert.NoError(t, err)
					if ok {
						allowed.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		// 500 attempts against 100 tokens: exactly the capacity is granted.
		assert.Equal(t, int64(100), allowed.Load())
	})
}
