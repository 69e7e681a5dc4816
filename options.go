package syncengine

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring the engine.
type Option func(*engineOptions)

type engineOptions struct {
	config             Config
	logger             *slog.Logger
	limiter            Limiter
	notificationBuffer int
}

// WithConfig replaces the entire configuration. Later options still apply
// on top of it.
func WithConfig(cfg Config) Option {
	return func(o *engineOptions) {
		o.config = cfg
	}
}

// WithBatchSize sets how many events are fetched per priority per tick.
func WithBatchSize(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.config.BatchSize = n
		}
	}
}

// WithTickInterval sets how often the dispatch loop fires.
func WithTickInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.config.TickInterval = d
		}
	}
}

// WithMaxConcurrentWorkers sets the global concurrency cap.
func WithMaxConcurrentWorkers(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.config.MaxConcurrentWorkers = n
		}
	}
}

// WithCleanupInterval sets how often the cleanup sweeper runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.config.CleanupInterval = d
		}
	}
}

// WithPriorityPolicy overrides the retry and timeout policy for one level.
func WithPriorityPolicy(level Priority, policy PriorityPolicy) Option {
	return func(o *engineOptions) {
		if !level.Valid() {
			return
		}
		if o.config.Priorities == nil {
			o.config.Priorities = DefaultPriorities()
		}
		o.config.Priorities[level] = policy
	}
}

// WithRateLimit overrides the rate limiter configuration.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(o *engineOptions) {
		o.config.RateLimit = cfg
	}
}

// WithDeadLetter overrides the dead-letter retention configuration.
func WithDeadLetter(cfg DeadLetterConfig) Option {
	return func(o *engineOptions) {
		o.config.DeadLetter = cfg
	}
}

// WithLimiter injects a custom rate limiter implementation, e.g. a
// Redis-backed bucket shared across instances. When unset, an in-process
// token bucket is built from the rate-limit config.
func WithLimiter(l Limiter) Option {
	return func(o *engineOptions) {
		if l != nil {
			o.limiter = l
		}
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNotificationBuffer sets the capacity of the notification channel.
// When the buffer is full new notifications are dropped rather than
// blocking the dispatch loop.
func WithNotificationBuffer(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.notificationBuffer = n
		}
	}
}
