package partition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

func TestCheckpointer_Checkpoint(t *testing.T) {
	t.Parallel()

	_, m, l := newOwnedLease(t, "0")
	cp := NewCheckpointer(m, l, nil, metrics.NewNop())

	updated, err := cp.Checkpoint(t.Context(), "42")
	require.NoError(t, err)
	require.Equal(t, "42", updated.ContinuationToken)
	require.Equal(t, "42", cp.Lease().ContinuationToken)

	stored, err := m.Get(t.Context(), "0")
	require.NoError(t, err)
	require.Equal(t, "42", stored.ContinuationToken)

	// the cached copy tracks the new concurrency token
	_, err = cp.Checkpoint(t.Context(), "43")
	require.NoError(t, err)
	require.Equal(t, "43", cp.Lease().ContinuationToken)
}

func TestCheckpointer_EmptyContinuation(t *testing.T) {
	t.Parallel()

	_, m, l := newOwnedLease(t, "0")
	cp := NewCheckpointer(m, l, nil, nil)

	_, err := cp.Checkpoint(t.Context(), "")
	require.ErrorIs(t, err, types.ErrEmptyContinuation)
	require.Empty(t, cp.Lease().ContinuationToken)
}

func TestCheckpointer_LeaseLost(t *testing.T) {
	t.Parallel()

	container, m, l := newOwnedLease(t, "0")
	_, err := newManager(t, container, "host-b").Acquire(t.Context(), l)
	require.NoError(t, err)

	_, err = NewCheckpointer(m, l, nil, nil).Checkpoint(t.Context(), "7")
	require.ErrorIs(t, err, types.ErrLeaseLost)
}
