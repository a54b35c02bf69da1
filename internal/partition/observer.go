package partition

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

type observerContext struct {
	leaseToken   string
	page         types.FeedPage
	checkpointer *Checkpointer
	explicit     bool
}

var _ types.ObserverContext = (*observerContext)(nil)

func (c *observerContext) LeaseToken() string {
	return c.leaseToken
}

func (c *observerContext) Page() types.FeedPage {
	return c.page
}

// Checkpoint is only available to observers when checkpointing is explicit.
func (c *observerContext) Checkpoint(ctx context.Context) (*types.Lease, error) {
	if !c.explicit {
		return nil, types.ErrCheckpointNotAllowed
	}

	return c.checkpoint(ctx)
}

func (c *observerContext) checkpoint(ctx context.Context) (*types.Lease, error) {
	if c.checkpointer == nil {
		return nil, fmt.Errorf("no checkpointer for partition %s", c.leaseToken)
	}

	return c.checkpointer.Checkpoint(ctx, c.page.Continuation)
}

type internalCheckpointer interface {
	checkpoint(ctx context.Context) (*types.Lease, error)
}

// ObserverErrorWrapper converts observer failures into *types.ObserverError.
//
// Returned errors and panics from Open, ProcessChanges and Close are both
// wrapped so that a misbehaving observer only closes its own partition.
type ObserverErrorWrapper struct {
	inner  types.ChangeFeedObserver
	logger types.Logger
}

// NewObserverErrorWrapper wraps inner.
func NewObserverErrorWrapper(inner types.ChangeFeedObserver, logger types.Logger) *ObserverErrorWrapper {
	return &ObserverErrorWrapper{inner: inner, logger: logging.OrNop(logger)}
}

// Open calls the wrapped observer's Open.
func (w *ObserverErrorWrapper) Open(ctx context.Context, oc types.ObserverContext) error {
	return w.guard("open", func() error { return w.inner.Open(ctx, oc) })
}

// ProcessChanges calls the wrapped observer's ProcessChanges.
func (w *ObserverErrorWrapper) ProcessChanges(ctx context.Context, oc types.ObserverContext, items []json.RawMessage) error {
	return w.guard("process", func() error { return w.inner.ProcessChanges(ctx, oc, items) })
}

// Close calls the wrapped observer's Close.
func (w *ObserverErrorWrapper) Close(ctx context.Context, oc types.ObserverContext, reason types.CloseReason) error {
	return w.guard("close", func() error { return w.inner.Close(ctx, oc, reason) })
}

func (w *ObserverErrorWrapper) guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("observer panicked", "op", op, "panic", r)
			err = &types.ObserverError{Err: fmt.Errorf("panic in observer %s: %v", op, r)}
		}
	}()

	if err := fn(); err != nil {
		w.logger.Warn("observer failed", "op", op, "error", err)
		return &types.ObserverError{Err: err}
	}

	return nil
}

// AutoCheckpointer checkpoints after successful batches according to a
// CheckpointFrequency.
//
// Without thresholds every batch is checkpointed. Otherwise a checkpoint is
// written when the number of batches since the last checkpoint reaches
// DocumentCount or when TimeInterval has elapsed, whichever comes first.
type AutoCheckpointer struct {
	inner     types.ChangeFeedObserver
	frequency types.CheckpointFrequency
	now       func() time.Time

	processed      int
	lastCheckpoint time.Time
}

// NewAutoCheckpointer wraps inner with automatic checkpointing.
func NewAutoCheckpointer(inner types.ChangeFeedObserver, frequency types.CheckpointFrequency, now func() time.Time) *AutoCheckpointer {
	if now == nil {
		now = time.Now
	}

	return &AutoCheckpointer{inner: inner, frequency: frequency, now: now}
}

// Open starts the checkpoint interval and calls the wrapped observer.
func (a *AutoCheckpointer) Open(ctx context.Context, oc types.ObserverContext) error {
	a.lastCheckpoint = a.now()
	return a.inner.Open(ctx, oc)
}

// ProcessChanges delivers the batch and checkpoints when due.
func (a *AutoCheckpointer) ProcessChanges(ctx context.Context, oc types.ObserverContext, items []json.RawMessage) error {
	if err := a.inner.ProcessChanges(ctx, oc, items); err != nil {
		return err
	}

	a.processed++
	if !a.due() {
		return nil
	}

	cp, ok := oc.(internalCheckpointer)
	if !ok {
		return fmt.Errorf("observer context for %s does not support checkpointing", oc.LeaseToken())
	}
	if _, err := cp.checkpoint(ctx); err != nil {
		return err
	}

	a.processed = 0
	a.lastCheckpoint = a.now()

	return nil
}

// Close calls the wrapped observer.
func (a *AutoCheckpointer) Close(ctx context.Context, oc types.ObserverContext, reason types.CloseReason) error {
	return a.inner.Close(ctx, oc, reason)
}

func (a *AutoCheckpointer) due() bool {
	byCount := a.frequency.DocumentCount > 0
	byTime := a.frequency.TimeInterval > 0

	if !byCount && !byTime {
		return true
	}
	if byCount && a.processed >= a.frequency.DocumentCount {
		return true
	}

	return byTime && a.now().Sub(a.lastCheckpoint) >= a.frequency.TimeInterval
}
