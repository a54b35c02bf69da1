package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/internal/balancer"
	"github.com/arloliu/changefeed/internal/bootstrap"
	"github.com/arloliu/changefeed/internal/lease"
	"github.com/arloliu/changefeed/internal/partition"
	"github.com/arloliu/changefeed/source"
	"github.com/arloliu/changefeed/store/memory"
	"github.com/arloliu/changefeed/strategy"
	"github.com/arloliu/changefeed/types"
)

type step struct {
	mu    sync.Mutex
	calls []string
}

func (s *step) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, name)
}

func (s *step) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

type fakeBootstrapper struct {
	steps *step
	err   error
}

func (f *fakeBootstrapper) Initialize(context.Context) error {
	f.steps.record("bootstrap")
	return f.err
}

type fakeController struct {
	steps *step
	err   error
}

func (f *fakeController) Initialize(context.Context) error {
	f.steps.record("resume")
	return f.err
}

func (f *fakeController) Shutdown() { f.steps.record("shutdown") }

func (f *fakeController) Wait(context.Context) error {
	f.steps.record("wait")
	return nil
}

type fakeBalancer struct {
	steps *step
	err   error
}

func (f *fakeBalancer) Start(context.Context) error {
	f.steps.record("balance")
	return f.err
}

func (f *fakeBalancer) Stop() error {
	f.steps.record("stop-balance")
	return nil
}

func newFakeManager(t *testing.T, bootErr, resumeErr, balanceErr error, h *types.Hooks) (*PartitionManager, *step) {
	t.Helper()

	steps := &step{}
	ctrl := &fakeController{steps: steps, err: resumeErr}
	m, err := New(Config{
		Bootstrapper: &fakeBootstrapper{steps: steps, err: bootErr},
		Controller:   ctrl,
		Balancer:     &fakeBalancer{steps: steps, err: balanceErr},
		Drainer:      ctrl,
		Hooks:        h,
	})
	require.NoError(t, err)

	return m, steps
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestPartitionManager_StartStop(t *testing.T) {
	t.Parallel()

	states := make(chan types.State, 8)
	m, steps := newFakeManager(t, nil, nil, nil, &types.Hooks{
		OnStateChanged: func(_ context.Context, _, to types.State) error {
			states <- to
			return nil
		},
	})

	require.Equal(t, types.StateInit, m.State())
	require.NoError(t, m.Start(t.Context()))
	require.Equal(t, types.StateRunning, m.State())
	require.Equal(t, []string{"bootstrap", "resume", "balance"}, steps.list())

	require.ErrorIs(t, m.Start(t.Context()), types.ErrAlreadyStarted)

	require.NoError(t, m.Stop(t.Context()))
	require.Equal(t, types.StateStopped, m.State())
	require.Equal(t, []string{"bootstrap", "resume", "balance", "stop-balance", "shutdown", "wait"}, steps.list())

	require.ErrorIs(t, m.Stop(t.Context()), types.ErrNotStarted)

	seen := make(map[types.State]bool)
	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-states:
				seen[s] = true
			default:
				return len(seen) == 5
			}
		}
	}, time.Second, time.Millisecond)
}

func TestPartitionManager_StopBeforeStart(t *testing.T) {
	t.Parallel()

	m, _ := newFakeManager(t, nil, nil, nil, nil)
	require.ErrorIs(t, m.Stop(t.Context()), types.ErrNotStarted)
}

func TestPartitionManager_StartFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name                           string
		bootErr, resumeErr, balanceErr error
		want                           []string
	}{
		{name: "bootstrap", bootErr: boom, want: []string{"bootstrap"}},
		{name: "resume", resumeErr: boom, want: []string{"bootstrap", "resume", "shutdown"}},
		{name: "balancer", balanceErr: boom, want: []string{"bootstrap", "resume", "balance", "shutdown"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			errs := make(chan error, 1)
			m, steps := newFakeManager(t, tt.bootErr, tt.resumeErr, tt.balanceErr, &types.Hooks{
				OnError: func(_ context.Context, err error) error {
					errs <- err
					return nil
				},
			})

			err := m.Start(t.Context())
			require.ErrorIs(t, err, boom)
			require.Equal(t, types.StateStopped, m.State())
			require.Equal(t, tt.want, steps.list())
			require.ErrorIs(t, <-errs, boom)
			require.ErrorIs(t, m.Stop(t.Context()), types.ErrNotStarted)
		})
	}
}

// recordingObserver counts delivered items.
type recordingObserver struct {
	mu    sync.Mutex
	items int
}

func (o *recordingObserver) Open(context.Context, types.ObserverContext) error { return nil }

func (o *recordingObserver) ProcessChanges(_ context.Context, _ types.ObserverContext, items []json.RawMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.items += len(items)

	return nil
}

func (o *recordingObserver) Close(context.Context, types.ObserverContext, types.CloseReason) error {
	return nil
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.items
}

func TestPartitionManager_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	container := memory.NewContainer()
	src := source.NewMemory("0", "1", "2", "3")

	leases, err := lease.NewManager(lease.ManagerConfig{Container: container, Prefix: "e2e", HostName: "host-a"})
	require.NoError(t, err)
	store, err := lease.NewStore(lease.StoreConfig{Container: container, Prefix: "e2e"})
	require.NoError(t, err)

	synchronizer := bootstrap.NewSynchronizer(src, leases, 0, nil)
	observer := &recordingObserver{}

	ctrl, err := partition.NewController(partition.ControllerConfig{
		Leases:          leases,
		Splitter:        synchronizer,
		Source:          src,
		ObserverFactory: types.ObserverFactoryFunc(func() types.ChangeFeedObserver { return observer }),
		Options: partition.Options{
			LeaseRenewInterval: time.Second,
			FeedPollDelay:      5 * time.Millisecond,
			StartFromBeginning: true,
		},
	})
	require.NoError(t, err)

	lb, err := balancer.New(balancer.Config{
		Leases:          leases,
		Controller:      ctrl,
		Strategy:        strategy.NewEqualPartitions("host-a", time.Minute),
		AcquireInterval: time.Hour,
	})
	require.NoError(t, err)

	m, err := New(Config{
		Bootstrapper: bootstrap.NewBootstrapper(bootstrap.Config{Synchronizer: synchronizer, Store: store}),
		Controller:   ctrl,
		Balancer:     lb,
		Drainer:      ctrl,
	})
	require.NoError(t, err)

	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		_, err := src.AppendByKey(key, json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	require.NoError(t, m.Start(ctx))

	// four partitions, four leases, all owned after the first balancing cycle
	require.Eventually(t, func() bool {
		all, err := leases.ListAllLeases(ctx)
		if err != nil || len(all) != 4 {
			return false
		}
		for _, l := range all {
			if l.Owner != "host-a" {
				return false
			}
		}

		return true
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return observer.count() == 8 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))

	owned, err := leases.ListOwnedLeases(ctx)
	require.NoError(t, err)
	require.Empty(t, owned, "every lease is released on stop")
}
