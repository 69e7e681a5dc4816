// Package syncengine provides a priority event-queue processing engine that
// drains pending sync events from a durable store and executes them through
// a pluggable processor under a global concurrency cap.
//
// The engine is organised around two narrow contracts:
//
//   - Store      — the durable queue: atomic claim, status transitions,
//     retry scheduling, dead letter moves, cleanup, and aggregate stats
//   - Processor  — the business logic executed for one event
//
// Everything else is policy owned by the engine: a fixed-interval tick loop
// services priorities strictly critical > high > normal > low, a token
// bucket gates fetch throughput, failed events back off exponentially
// (base * 2^retryCount) until their per-priority retry budget is exhausted
// and they move to the dead letter queue, and an independent sweeper purges
// completed and dead-lettered records past their retention windows.
//
// # Usage
//
//	store := syncengine.NewMemoryStore()
//	engine, err := syncengine.New(store,
//	    syncengine.ProcessorFunc(func(ctx context.Context, ev *syncengine.SyncEvent) error {
//	        return applyChange(ctx, ev.TableName, ev.Payload)
//	    }),
//	    syncengine.WithMaxConcurrentWorkers(10),
//	    syncengine.WithTickInterval(2*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	defer engine.Close()
//
// Production deployments back the queue with the pgstore package, which
// implements the claim semantics with row-level locking that skips rows
// already claimed by another instance.
//
// # Concurrency
//
// Ticks are not serialized against each other: when a previous tick's
// workers are still running, the next tick respects the same global cap
// through a shared active-worker counter. The store is the arbiter of
// "at most one worker per event"; terminal states (completed, dead_letter)
// are sticky, so a late write from a timed-out processor cannot corrupt an
// already-decided transition.
//
// # Observability
//
// Engine.Status returns in-memory counters, recent errors, and worker
// occupancy; Engine.QueueStatistics queries database-side aggregates.
// Structured notifications (batch completion, failures, dead letters) are
// delivered on a buffered channel and dropped rather than ever blocking
// the dispatch loop.
package syncengine
