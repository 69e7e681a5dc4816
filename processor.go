package syncengine

import "context"

// Processor performs the actual side-effecting work for one event.
// Implementations must be safe to invoke with an external deadline; the
// engine does not guarantee synchronous cancellation on timeout, so a
// non-cooperative processor may keep running after its context expires.
type Processor interface {
	Process(ctx context.Context, event *SyncEvent) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, event *SyncEvent) error

func (f ProcessorFunc) Process(ctx context.Context, event *SyncEvent) error {
	return f(ctx, event)
}
