package types

import "context"

// Hooks defines callbacks for processor lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so they never block the lifecycle. Hooks receive a context that is
// cancelled when the processor stops.
//
// Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - Hook errors are logged but don't fail processor operations
//
// Example:
//
//	hooks := &changefeed.Hooks{
//	    OnStateChanged: func(ctx context.Context, from, to changefeed.State) error {
//	        log.Printf("processor %s -> %s", from, to)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnStateChanged is called when the processor state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnError is called when starting the processor fails.
	OnError func(ctx context.Context, err error) error
}
