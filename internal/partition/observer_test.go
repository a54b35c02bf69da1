package partition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/internal/lease"
	"github.com/arloliu/changefeed/types"
)

// countingContext is an ObserverContext that counts internal checkpoints.
type countingContext struct {
	checkpoints []int
	batch       int
	err         error
}

func (c *countingContext) LeaseToken() string { return "0" }

func (c *countingContext) Page() types.FeedPage { return types.FeedPage{} }

func (c *countingContext) Checkpoint(context.Context) (*types.Lease, error) { return nil, nil }

func (c *countingContext) checkpoint(context.Context) (*types.Lease, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.checkpoints = append(c.checkpoints, c.batch)

	return &types.Lease{}, nil
}

func runBatches(t *testing.T, a *AutoCheckpointer, oc *countingContext, n int, tick func()) {
	t.Helper()

	require.NoError(t, a.Open(t.Context(), oc))
	for i := 1; i <= n; i++ {
		if tick != nil {
			tick()
		}
		oc.batch = i
		require.NoError(t, a.ProcessChanges(t.Context(), oc, items("x")))
	}
}

func TestAutoCheckpointer_EveryBatchWithoutThresholds(t *testing.T) {
	t.Parallel()

	oc := &countingContext{}
	runBatches(t, NewAutoCheckpointer(newRecordingObserver(), types.CheckpointFrequency{}, nil), oc, 4, nil)

	require.Equal(t, []int{1, 2, 3, 4}, oc.checkpoints)
}

func TestAutoCheckpointer_DocumentCount(t *testing.T) {
	t.Parallel()

	oc := &countingContext{}
	a := NewAutoCheckpointer(newRecordingObserver(), types.CheckpointFrequency{DocumentCount: 3}, nil)
	runBatches(t, a, oc, 10, nil)

	require.Equal(t, []int{3, 6, 9}, oc.checkpoints)
}

func TestAutoCheckpointer_TimeInterval(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	oc := &countingContext{}
	a := NewAutoCheckpointer(newRecordingObserver(), types.CheckpointFrequency{TimeInterval: time.Minute}, clock)
	runBatches(t, a, oc, 6, func() { now = now.Add(25 * time.Second) })

	// 25s, 50s, 75s -> checkpoint at batch 3; then again after 3 more ticks
	require.Equal(t, []int{3, 6}, oc.checkpoints)
}

func TestAutoCheckpointer_ObserverFailureSkipsCheckpoint(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	inner := newRecordingObserver()
	inner.procErr = boom

	oc := &countingContext{}
	a := NewAutoCheckpointer(inner, types.CheckpointFrequency{}, nil)

	err := a.ProcessChanges(t.Context(), oc, items("x"))
	require.ErrorIs(t, err, boom)
	require.Empty(t, oc.checkpoints)
}

func TestAutoCheckpointer_CheckpointFailure(t *testing.T) {
	t.Parallel()

	oc := &countingContext{err: types.ErrLeaseLost}
	a := NewAutoCheckpointer(newRecordingObserver(), types.CheckpointFrequency{}, nil)

	err := a.ProcessChanges(t.Context(), oc, items("x"))
	require.ErrorIs(t, err, types.ErrLeaseLost)
}

func TestObserverErrorWrapper(t *testing.T) {
	t.Parallel()

	t.Run("wraps returned errors", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		inner := newRecordingObserver()
		inner.openErr = boom

		err := NewObserverErrorWrapper(inner, nil).Open(t.Context(), &countingContext{})

		var observerErr *types.ObserverError
		require.ErrorAs(t, err, &observerErr)
		require.ErrorIs(t, err, boom)
	})

	t.Run("recovers panics", func(t *testing.T) {
		t.Parallel()

		inner := newRecordingObserver()
		inner.onBatch = func(context.Context, types.ObserverContext) error { panic("kaboom") }

		err := NewObserverErrorWrapper(inner, nil).ProcessChanges(t.Context(), &countingContext{}, items("x"))

		var observerErr *types.ObserverError
		require.ErrorAs(t, err, &observerErr)
		require.Contains(t, err.Error(), "kaboom")
	})

	t.Run("passes success through", func(t *testing.T) {
		t.Parallel()

		inner := newRecordingObserver()
		w := NewObserverErrorWrapper(inner, nil)

		require.NoError(t, w.ProcessChanges(t.Context(), &countingContext{}, items("x")))
		require.NoError(t, w.Close(t.Context(), &countingContext{}, types.CloseReasonShutdown))
		require.Equal(t, []types.CloseReason{types.CloseReasonShutdown}, inner.closeReasons())
	})
}

func TestAutoCheckpointer_UnwrittenCheckpointIsRetried(t *testing.T) {
	t.Parallel()

	container, m, l := newOwnedLease(t, "0")
	cp := NewCheckpointer(m, l, nil, nil)
	a := NewAutoCheckpointer(newRecordingObserver(), types.CheckpointFrequency{DocumentCount: 2}, nil)

	batch := func(continuation string) error {
		oc := &observerContext{leaseToken: "0", page: types.FeedPage{Continuation: continuation}, checkpointer: cp}
		return a.ProcessChanges(t.Context(), oc, items("x"))
	}

	require.NoError(t, a.Open(t.Context(), &observerContext{leaseToken: "0", checkpointer: cp}))
	require.NoError(t, batch("1"))

	for range lease.DefaultMaxUpdateAttempts {
		container.InjectFault("replace", "", types.ErrPreconditionFailed)
	}
	require.ErrorIs(t, batch("2"), types.ErrLeaseConflict)
	require.Empty(t, cp.Lease().ContinuationToken)

	// the failed checkpoint is still due on the next batch
	require.NoError(t, batch("3"))
	require.Equal(t, "3", cp.Lease().ContinuationToken)

	stored, err := m.Get(t.Context(), "0")
	require.NoError(t, err)
	require.Equal(t, "3", stored.ContinuationToken)
}

func TestObserverContext_Checkpoint(t *testing.T) {
	t.Parallel()

	_, m, l := newOwnedLease(t, "0")
	cp := NewCheckpointer(m, l, nil, nil)
	page := types.FeedPage{Continuation: "5"}

	automatic := &observerContext{leaseToken: "0", page: page, checkpointer: cp}
	_, err := automatic.Checkpoint(t.Context())
	require.ErrorIs(t, err, types.ErrCheckpointNotAllowed)

	explicit := &observerContext{leaseToken: "0", page: page, checkpointer: cp, explicit: true}
	updated, err := explicit.Checkpoint(t.Context())
	require.NoError(t, err)
	require.Equal(t, "5", updated.ContinuationToken)
}
