package syncengine

import (
	"context"
	"sync"
	"time"
)

// Limiter gates dispatch throughput. The dispatcher consults it once per
// priority level per tick, not per individual event.
type Limiter interface {
	// TryConsume attempts to take one token. Returns false when the bucket
	// is empty; the caller skips that priority for the current tick.
	TryConsume(ctx context.Context) (bool, error)
}

// TokenBucket is the in-process Limiter: a single mutex-guarded bucket
// refilled continuously at a fixed rate. Concurrent callers never observe
// a torn read since refill and consume happen under one lock.
type TokenBucket struct {
	mu          sync.Mutex
	tokens      float64
	capacity    float64
	refillPerMs float64
	lastRefill  time.Time

	now func() time.Time
}

// NewTokenBucket creates a full bucket holding up to capacity tokens,
// refilled at perSecond tokens per second.
func NewTokenBucket(capacity int, perSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:      float64(capacity),
		capacity:    float64(capacity),
		refillPerMs: perSecond / 1000,
		lastRefill:  time.Now(),
		now:         time.Now,
	}
}

// TryConsume implements Limiter.
func (b *TokenBucket) TryConsume(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsedMs := float64(now.Sub(b.lastRefill)) / float64(time.Millisecond)
	if elapsedMs > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsedMs*b.refillPerMs)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Tokens returns the current token count without consuming.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// nopLimiter is used when rate limiting is disabled.
type nopLimiter struct{}

func (nopLimiter) TryConsume(context.Context) (bool, error) { return true, nil }
