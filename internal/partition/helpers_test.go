package partition

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/internal/lease"
	"github.com/arloliu/changefeed/store/memory"
	"github.com/arloliu/changefeed/types"
)

func newManager(t *testing.T, container types.LeaseContainer, host string) *lease.Manager {
	t.Helper()

	m, err := lease.NewManager(lease.ManagerConfig{Container: container, Prefix: "test", HostName: host})
	require.NoError(t, err)

	return m
}

// ownedLease creates a lease for token and acquires it with m.
func ownedLease(t *testing.T, m *lease.Manager, token string, continuation string) *types.Lease {
	t.Helper()

	created, err := m.CreateLeaseIfNotExist(t.Context(), token, continuation)
	require.NoError(t, err)
	require.NotNil(t, created)

	acquired, err := m.Acquire(t.Context(), created)
	require.NoError(t, err)

	return acquired
}

func newOwnedLease(t *testing.T, token string) (*memory.Container, *lease.Manager, *types.Lease) {
	t.Helper()

	container := memory.NewContainer()
	m := newManager(t, container, "host-a")

	return container, m, ownedLease(t, m, token, "")
}

// recordingObserver records every call made to it.
type recordingObserver struct {
	mu       sync.Mutex
	opened   int
	batches  [][]json.RawMessage
	closed   []types.CloseReason
	openErr  error
	procErr  error
	onBatch  func(ctx context.Context, oc types.ObserverContext) error
	closedCh chan types.CloseReason
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{closedCh: make(chan types.CloseReason, 8)}
}

func (o *recordingObserver) Open(_ context.Context, _ types.ObserverContext) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opened++

	return o.openErr
}

func (o *recordingObserver) ProcessChanges(ctx context.Context, oc types.ObserverContext, items []json.RawMessage) error {
	o.mu.Lock()
	o.batches = append(o.batches, items)
	onBatch, procErr := o.onBatch, o.procErr
	o.mu.Unlock()

	if onBatch != nil {
		if err := onBatch(ctx, oc); err != nil {
			return err
		}
	}

	return procErr
}

func (o *recordingObserver) Close(_ context.Context, _ types.ObserverContext, reason types.CloseReason) error {
	o.mu.Lock()
	o.closed = append(o.closed, reason)
	o.mu.Unlock()

	o.closedCh <- reason

	return nil
}

func (o *recordingObserver) itemCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, b := range o.batches {
		n += len(b)
	}

	return n
}

func (o *recordingObserver) closeReasons() []types.CloseReason {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]types.CloseReason(nil), o.closed...)
}

func items(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(`"` + v + `"`)
	}

	return out
}
