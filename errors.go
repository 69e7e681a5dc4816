package syncengine

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrProcessorNil is returned when a nil processor is provided
	ErrProcessorNil = errors.New("processor cannot be nil")

	// ErrInvalidPriority is returned when a priority is not one of the known levels
	ErrInvalidPriority = errors.New("invalid priority level")

	// ErrInvalidConfig is returned when configuration values are out of range
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrAlreadyStarted is returned when Start is called on a running engine
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotStarted is returned when Stop is called on a stopped engine
	ErrNotStarted = errors.New("engine not started")

	// ErrEngineClosed is returned when operations are invoked after Close
	ErrEngineClosed = errors.New("engine is closed")

	// ErrProcessTimeout is returned when the processor exceeds the priority's timeout
	ErrProcessTimeout = errors.New("event processing timed out")

	// ErrFetchFailed is returned when fetching pending events from the store fails
	ErrFetchFailed = errors.New("failed to fetch pending events from store")

	// ErrEventNotFound is returned by stores when the event id is unknown
	ErrEventNotFound = errors.New("sync event not found")
)
