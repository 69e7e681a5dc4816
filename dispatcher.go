package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// storeWriteTimeout bounds status writes that must outlive the dispatch
// context, such as releasing an event interrupted by shutdown.
const storeWriteTimeout = 10 * time.Second

// storeCtx derives a bounded context for status writes that survives
// cancellation of the dispatch context, so shutdown never strands events in
// the processing state.
func storeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), storeWriteTimeout)
}

// dispatchTick services priority levels strictly high-to-low. The tick ends
// early once the global worker cap is reached, so critical work is never
// starved by lower levels; under sustained overload low priorities may be
// starved instead, which is the intended trade-off. Ticks overlap, so
// in-flight ticks are counted rather than flagged.
func (e *Engine) dispatchTick(ctx context.Context) {
	e.ticksInFlight.Add(1)
	defer e.ticksInFlight.Add(-1)

	for _, p := range priorityOrder {
		if ctx.Err() != nil {
			return
		}
		if e.activeWorkers.Load() >= int64(e.cfg.MaxConcurrentWorkers) {
			e.logger.Debug("worker cap reached, ending tick early",
				slog.String("priority", string(p)))
			return
		}

		allowed, err := e.limiter.TryConsume(ctx)
		if err != nil {
			// Limiter errors deny the fetch; the priority is retried next tick.
			e.logger.Warn("rate limiter check failed",
				slog.String("priority", string(p)),
				slog.String("error", err.Error()))
			continue
		}
		if !allowed {
			e.logger.Debug("rate limited, skipping priority this tick",
				slog.String("priority", string(p)))
			continue
		}

		policy := e.cfg.policy(p)
		events, err := e.store.FetchPendingByPriority(ctx, p, e.cfg.BatchSize, policy.MaxRetries)
		if err != nil {
			// A store error aborts this priority only; the loop never crashes.
			e.logger.Error("failed to fetch pending events",
				slog.String("priority", string(p)),
				slog.String("error", err.Error()))
			e.stats.recordError(ErrorRecord{
				Priority:   p,
				Message:    err.Error(),
				OccurredAt: time.Now(),
			})
			continue
		}
		if len(events) == 0 {
			continue
		}

		e.processBatch(ctx, p, events)
	}
}

// processBatch groups a fetched page by target table and executes each
// group in chunks no larger than the worker cap, waiting for a whole chunk
// before starting the next. Returns the number of events that completed
// successfully.
func (e *Engine) processBatch(ctx context.Context, p Priority, events []SyncEvent) int {
	if len(events) == 0 {
		return 0
	}

	var groups map[string][]SyncEvent
	if e.cfg.Batching.Enabled {
		groups = groupByTable(events)
	} else {
		groups = map[string][]SyncEvent{"": events}
	}

	chunkSize := e.cfg.MaxConcurrentWorkers
	if e.cfg.Batching.Enabled && e.cfg.Batching.MaxBatchSize > 0 && e.cfg.Batching.MaxBatchSize < chunkSize {
		chunkSize = e.cfg.Batching.MaxBatchSize
	}

	var processed, failed atomic.Int64
	for _, group := range groups {
		for _, chunk := range chunkEvents(group, chunkSize) {
			var g errgroup.Group
			for _, ev := range chunk {
				ev := ev
				g.Go(func() error {
					if e.processEvent(ctx, ev) {
						processed.Add(1)
					} else {
						failed.Add(1)
					}
					return nil
				})
			}
			// Workers record their own failures, so Wait never errors.
			_ = g.Wait()
		}
	}

	e.stats.incBatches()
	e.notify(Notification{
		Kind:      NotificationBatchCompleted,
		Priority:  p,
		Processed: int(processed.Load()),
		Failed:    int(failed.Load()),
	})

	return int(processed.Load())
}

// processEvent executes one event through the processor under the
// priority's timeout. The active-worker counter is released on every path.
func (e *Engine) processEvent(ctx context.Context, ev SyncEvent) (ok bool) {
	e.activeWorkers.Add(1)
	occ := e.occupancy[ev.Priority]
	if occ != nil {
		occ.Add(1)
	}
	defer func() {
		e.activeWorkers.Add(-1)
		if occ != nil {
			occ.Add(-1)
		}
	}()

	policy := e.cfg.policy(ev.Priority)
	start := time.Now()
	err := e.invokeProcessor(ctx, &ev, policy.Timeout)
	duration := time.Since(start)

	if err != nil {
		// Cancellation of the dispatch context is shutdown, not a processing
		// failure: the event goes back to pending with its retry budget and
		// error history intact.
		if ctx.Err() != nil {
			e.releaseEvent(ctx, &ev)
			return false
		}
		e.handleFailure(ctx, &ev, err)
		return false
	}

	wctx, cancel := storeCtx(ctx)
	defer cancel()
	if err := e.store.UpdateStatus(wctx, ev.ID, StatusCompleted, ""); err != nil {
		e.logger.Error("failed to mark event completed",
			slog.String("event_id", ev.ID.String()),
			slog.String("error", err.Error()))
		e.stats.recordError(ErrorRecord{
			EventID:    ev.ID,
			TableName:  ev.TableName,
			Priority:   ev.Priority,
			Message:    err.Error(),
			OccurredAt: time.Now(),
		})
		return false
	}

	e.stats.recordProcessed(duration)
	e.logger.Debug("event processed",
		slog.String("event_id", ev.ID.String()),
		slog.String("table", ev.TableName),
		slog.Duration("duration", duration))

	return true
}

// invokeProcessor runs the processor with a deadline. A non-cooperative
// processor may keep running after the timeout fires; its late status write
// is neutralized by the store's sticky terminal states.
func (e *Engine) invokeProcessor(ctx context.Context, ev *SyncEvent, timeout time.Duration) error {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in processor: %v", r)
			}
		}()
		done <- e.processor.Process(pctx, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-pctx.Done():
		// Parent cancellation means the engine is shutting down; only the
		// per-event deadline firing counts as a processing timeout.
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrProcessTimeout
	}
}

// releaseEvent returns an in-flight event to pending after shutdown
// interrupted it. The retry count and last error are left untouched; the
// write runs on a detached context since the dispatch context is already
// cancelled.
func (e *Engine) releaseEvent(ctx context.Context, ev *SyncEvent) {
	wctx, cancel := storeCtx(ctx)
	defer cancel()

	if err := e.store.UpdateStatus(wctx, ev.ID, StatusPending, ""); err != nil {
		e.logger.Error("failed to release event on shutdown",
			slog.String("event_id", ev.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	e.logger.Debug("event released back to pending on shutdown",
		slog.String("event_id", ev.ID.String()),
		slog.String("table", ev.TableName))
}

// handleFailure applies the retry policy: exponential backoff while retries
// remain, dead letter once the budget is exhausted. Timeouts take the same
// path as any transient processing error.
func (e *Engine) handleFailure(ctx context.Context, ev *SyncEvent, procErr error) {
	policy := e.cfg.policy(ev.Priority)

	e.stats.recordFailure(ErrorRecord{
		EventID:    ev.ID,
		TableName:  ev.TableName,
		Priority:   ev.Priority,
		Message:    procErr.Error(),
		OccurredAt: time.Now(),
	})
	e.notify(Notification{
		Kind:      NotificationEventFailed,
		Priority:  ev.Priority,
		TableName: ev.TableName,
		EventID:   ev.ID,
		Error:     procErr.Error(),
	})

	// Status writes run on a detached context so a retry decision made just
	// before shutdown still lands in the store.
	wctx, cancel := storeCtx(ctx)
	defer cancel()

	if ev.RetryCount < policy.MaxRetries {
		delay := backoffDelay(policy.BaseRetryDelay, ev.RetryCount)
		if err := e.store.ScheduleRetry(wctx, ev.ID, procErr.Error(), time.Now().Add(delay)); err != nil {
			e.logger.Error("failed to schedule retry",
				slog.String("event_id", ev.ID.String()),
				slog.String("error", err.Error()))
			return
		}
		e.stats.incRetried()
		e.logger.Warn("event failed, retry scheduled",
			slog.String("event_id", ev.ID.String()),
			slog.String("table", ev.TableName),
			slog.Int("retry_count", ev.RetryCount+1),
			slog.Int("max_retries", policy.MaxRetries),
			slog.Duration("delay", delay),
			slog.String("error", procErr.Error()))
		return
	}

	if err := e.store.MoveToDeadLetter(wctx, ev.ID, procErr.Error()); err != nil {
		e.logger.Error("failed to move event to dead letter queue",
			slog.String("event_id", ev.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	e.stats.incDeadLettered()
	e.notify(Notification{
		Kind:      NotificationEventDeadLettered,
		Priority:  ev.Priority,
		TableName: ev.TableName,
		EventID:   ev.ID,
		Error:     procErr.Error(),
	})
	e.logger.Error("event moved to dead letter queue",
		slog.String("event_id", ev.ID.String()),
		slog.String("table", ev.TableName),
		slog.Int("retry_count", ev.RetryCount),
		slog.String("error", procErr.Error()))
}
