package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the priority event-queue processing engine. It pulls pending
// sync events from a Store, dispatches them to bounded worker routines,
// applies per-priority retry policy, routes exhausted events to the dead
// letter queue, and periodically purges old records.
//
// An Engine is an explicitly constructed service object: the Store and
// Processor collaborators are injected at construction, which keeps the
// dependency graph explicit and makes isolated tests with fake stores
// possible.
type Engine struct {
	cfg       Config
	store     Store
	processor Processor
	limiter   Limiter
	logger    *slog.Logger

	stats         *runStats
	notifications chan Notification

	activeWorkers atomic.Int64
	occupancy     map[Priority]*atomic.Int64

	mu            sync.Mutex // guards lifecycle state below; held across the Stop drain
	cancel        context.CancelFunc
	startedAt     time.Time
	stopMu        sync.Mutex // synchronizes dispatch WaitGroup adds with Stop
	stopping      atomic.Bool
	loopWG        sync.WaitGroup
	dispatchWG    sync.WaitGroup
	closed        atomic.Bool
	notifyMu      sync.RWMutex // excludes notify sends against the channel close
	ticksInFlight atomic.Int64
}

// New constructs an engine with the given store and processor. Options are
// merged shallowly over DefaultConfig.
func New(store Store, processor Processor, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if processor == nil {
		return nil, ErrProcessorNil
	}

	options := &engineOptions{
		config:             DefaultConfig(),
		logger:             slog.Default(),
		notificationBuffer: 64,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.config.Priorities == nil {
		options.config.Priorities = DefaultPriorities()
	}
	if err := options.config.Validate(); err != nil {
		return nil, err
	}

	limiter := options.limiter
	if limiter == nil {
		if options.config.RateLimit.Enabled {
			limiter = NewTokenBucket(options.config.RateLimit.BurstCapacity, options.config.RateLimit.MaxPerSecond)
		} else {
			limiter = nopLimiter{}
		}
	}

	occupancy := make(map[Priority]*atomic.Int64, len(priorityOrder))
	for _, p := range priorityOrder {
		occupancy[p] = new(atomic.Int64)
	}

	return &Engine{
		cfg:           options.config,
		store:         store,
		processor:     processor,
		limiter:       limiter,
		logger:        options.logger,
		stats:         newRunStats(),
		notifications: make(chan Notification, options.notificationBuffer),
		occupancy:     occupancy,
	}, nil
}

// Start launches the dispatch loop and the cleanup sweeper in the
// background. Starting an already-running engine returns ErrAlreadyStarted,
// so repeated stop/start cycles always leave exactly one active tick loop.
func (e *Engine) Start(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.stopping.Store(false)

	e.loopWG.Add(2)
	go e.run(runCtx)
	go e.runCleanup(runCtx)

	e.logger.Info("sync engine started",
		slog.Duration("tick_interval", e.cfg.TickInterval),
		slog.Int("batch_size", e.cfg.BatchSize),
		slog.Int("max_concurrent_workers", e.cfg.MaxConcurrentWorkers))

	return nil
}

// Stop cancels the loops and waits for in-flight dispatches to drain. The
// lifecycle mutex is held across the drain, so a concurrent Start blocks
// until the previous run has fully wound down instead of re-arming the
// WaitGroups mid-wait.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel == nil {
		return ErrNotStarted
	}

	e.stopMu.Lock()
	e.stopping.Store(true)
	e.stopMu.Unlock()

	cancel := e.cancel
	e.cancel = nil
	cancel()

	e.logger.Info("sync engine stopping, waiting for active workers")
	e.loopWG.Wait()
	e.dispatchWG.Wait()
	e.logger.Info("sync engine stopped")

	return nil
}

// Close stops the engine if running and releases the notification channel.
// The engine cannot be restarted after Close.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if err := e.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}

	// The write lock excludes concurrent notify sends, so a manual run still
	// in flight can never hit a closed channel.
	e.notifyMu.Lock()
	close(e.notifications)
	e.notifyMu.Unlock()
	return nil
}

// Notifications returns the channel of structured result messages emitted
// by the dispatch loop. Messages are dropped when the channel is full, so
// consumers observing it is optional.
func (e *Engine) Notifications() <-chan Notification {
	return e.notifications
}

// run is the fixed-interval driver. Each tick dispatches in its own
// goroutine so long-running workers never delay the next tick; the shared
// active-worker counter keeps overlapping ticks under the same global cap.
func (e *Engine) run(ctx context.Context) {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.stopMu.Lock()
			if e.stopping.Load() {
				e.stopMu.Unlock()
				return
			}
			e.dispatchWG.Add(1)
			e.stopMu.Unlock()

			go func() {
				defer e.dispatchWG.Done()
				e.dispatchTick(ctx)
			}()
		}
	}
}

// runCleanup is the independent sweeper: failures are logged and never stop
// the next run.
func (e *Engine) runCleanup(ctx context.Context) {
	defer e.loopWG.Done()

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanupOnce(ctx)
		}
	}
}

func (e *Engine) cleanupOnce(ctx context.Context) {
	if n, err := e.store.CleanupOldEvents(ctx, e.cfg.RetentionDays); err != nil {
		e.logger.Error("cleanup of completed events failed", slog.String("error", err.Error()))
	} else if n > 0 {
		e.logger.Info("cleaned up completed events",
			slog.Int64("deleted", n),
			slog.Int("retention_days", e.cfg.RetentionDays))
	}

	if !e.cfg.DeadLetter.Enabled {
		return
	}
	if n, err := e.store.CleanupDeadLetter(ctx, e.cfg.DeadLetter.RetentionDays); err != nil {
		e.logger.Error("cleanup of dead letter events failed", slog.String("error", err.Error()))
	} else if n > 0 {
		e.logger.Info("cleaned up dead letter events",
			slog.Int64("deleted", n),
			slog.Int("retention_days", e.cfg.DeadLetter.RetentionDays))
	}
}

// Status is a point-in-time snapshot of the engine for status queries.
type Status struct {
	Initialized   bool             `json:"initialized"`
	Running       bool             `json:"running"`
	Processing    bool             `json:"processing"`
	ActiveWorkers int              `json:"active_workers"`
	MaxWorkers    int              `json:"max_workers"`
	Uptime        time.Duration    `json:"uptime"`
	Config        Config           `json:"config"`
	Stats         StatsSnapshot    `json:"stats"`
	RecentErrors  []ErrorRecord    `json:"recent_errors"`
	Occupancy     map[Priority]int `json:"occupancy"`
}

// Status reports the engine snapshot: flags, worker counts, full config,
// cumulative stats, the last few errors, and per-priority occupancy.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.cancel != nil
	startedAt := e.startedAt
	e.mu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startedAt)
	}

	occupancy := make(map[Priority]int, len(e.occupancy))
	for p, n := range e.occupancy {
		occupancy[p] = int(n.Load())
	}

	return Status{
		Initialized:   true,
		Running:       running,
		Processing:    e.ticksInFlight.Load() > 0,
		ActiveWorkers: int(e.activeWorkers.Load()),
		MaxWorkers:    e.cfg.MaxConcurrentWorkers,
		Uptime:        uptime,
		Config:        e.cfg,
		Stats:         e.stats.snapshot(),
		RecentErrors:  e.stats.recentErrors(statusErrorCount),
		Occupancy:     occupancy,
	}
}

// QueueStatistics returns database-side aggregates, independent of the
// in-memory counters which reset on restart.
func (e *Engine) QueueStatistics(ctx context.Context) (QueueStats, error) {
	return e.store.QueueStatistics(ctx)
}

// RunResult reports the outcome of a manual priority run.
type RunResult struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// RunPriority fetches and processes one batch of the given priority
// immediately, outside the tick schedule. The rate limiter is bypassed
// since the call is operator-driven. A non-positive limit falls back to
// the configured batch size.
func (e *Engine) RunPriority(ctx context.Context, p Priority, limit int) (RunResult, error) {
	if e.closed.Load() {
		return RunResult{}, ErrEngineClosed
	}
	if !p.Valid() {
		return RunResult{}, ErrInvalidPriority
	}
	if limit <= 0 {
		limit = e.cfg.BatchSize
	}

	policy := e.cfg.policy(p)
	events, err := e.store.FetchPendingByPriority(ctx, p, limit, policy.MaxRetries)
	if err != nil {
		return RunResult{}, errors.Join(ErrFetchFailed, err)
	}

	processed := e.processBatch(ctx, p, events)
	return RunResult{Processed: processed, Total: len(events)}, nil
}

// ResetFailedEvents resets failed (and stale processing) events older than
// maxAge back to pending. A nil priority resets across all levels.
func (e *Engine) ResetFailedEvents(ctx context.Context, priority *Priority, maxAge time.Duration) (int64, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	if priority != nil && !priority.Valid() {
		return 0, ErrInvalidPriority
	}
	return e.store.ResetFailedEvents(ctx, priority, maxAge)
}
