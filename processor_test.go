package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/source"
	"github.com/arloliu/changefeed/store/memory"
)

type countingObserver struct {
	mu     sync.Mutex
	items  map[string]int
	closed map[CloseReason]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{items: make(map[string]int), closed: make(map[CloseReason]int)}
}

func (o *countingObserver) factory() ObserverFactory {
	return ObserverFactoryFunc(func() ChangeFeedObserver { return o })
}

func (o *countingObserver) Open(context.Context, ObserverContext) error {
	return nil
}

func (o *countingObserver) ProcessChanges(_ context.Context, oc ObserverContext, items []json.RawMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.items[oc.LeaseToken()] += len(items)

	return nil
}

func (o *countingObserver) Close(_ context.Context, _ ObserverContext, reason CloseReason) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed[reason]++

	return nil
}

func (o *countingObserver) total() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, c := range o.items {
		n += c
	}

	return n
}

// plainSource hides the estimator of the wrapped memory feed.
type plainSource struct {
	inner *source.Memory
}

func (s plainSource) ReadChanges(ctx context.Context, req FeedRequest) (FeedPage, error) {
	return s.inner.ReadChanges(ctx, req)
}

func (s plainSource) ListRanges(ctx context.Context) ([]PartitionRange, error) {
	return s.inner.ListRanges(ctx)
}

func testProcessorConfig(host string) *Config {
	cfg := TestConfig()
	cfg.HostName = host
	cfg.LeasePrefix = "test"
	cfg.StartFromBeginning = true

	return &cfg
}

func appendKeys(t *testing.T, src *source.Memory, n int) {
	t.Helper()

	for i := range n {
		_, err := src.AppendByKey(fmt.Sprintf("key-%d", i), json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}
}

func stopProcessor(t *testing.T, p *Processor) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestNewProcessor_Validation(t *testing.T) {
	src := source.NewMemory("0")
	container := memory.NewContainer()
	factory := newCountingObserver().factory()

	t.Run("nil config", func(t *testing.T) {
		_, err := NewProcessor(nil, src, container, factory)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("nil source", func(t *testing.T) {
		_, err := NewProcessor(testProcessorConfig("h"), nil, container, factory)
		require.ErrorIs(t, err, ErrFeedSourceRequired)
	})

	t.Run("nil container", func(t *testing.T) {
		_, err := NewProcessor(testProcessorConfig("h"), src, nil, factory)
		require.ErrorIs(t, err, ErrLeaseContainerRequired)
	})

	t.Run("nil factory", func(t *testing.T) {
		_, err := NewProcessor(testProcessorConfig("h"), src, container, nil)
		require.ErrorIs(t, err, ErrObserverFactoryRequired)
	})

	t.Run("invalid values", func(t *testing.T) {
		cfg := testProcessorConfig("h")
		cfg.LeaseRenewInterval = cfg.LeaseExpirationInterval

		_, err := NewProcessor(cfg, src, container, factory)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestNewProcessor_Defaults(t *testing.T) {
	cfg := Config{}
	p, err := NewProcessor(&cfg, source.NewMemory("0"), memory.NewContainer(), newCountingObserver().factory())
	require.NoError(t, err)

	require.NotEmpty(t, p.HostName())
	require.Equal(t, cfg.HostName, p.HostName())
	require.NotNil(t, p.strategy)
	require.NotNil(t, p.metrics)
	require.NotNil(t, p.logger)
	require.Equal(t, StateInit, p.State())
	require.Nil(t, p.OwnedLeases())
}

func TestProcessor_Lifecycle(t *testing.T) {
	t.Parallel()

	src := source.NewMemory("0", "1")
	container := memory.NewContainer()
	observer := newCountingObserver()

	p, err := NewProcessor(testProcessorConfig("host-a"), src, container, observer.factory())
	require.NoError(t, err)

	require.ErrorIs(t, p.Stop(t.Context()), ErrNotStarted)

	require.NoError(t, p.Start(t.Context()))
	require.Equal(t, StateRunning, p.State())
	require.ErrorIs(t, p.Start(t.Context()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return len(p.OwnedLeases()) == 2 }, 3*time.Second, 10*time.Millisecond)

	stopProcessor(t, p)
	require.Equal(t, StateStopped, p.State())
	require.ErrorIs(t, p.Stop(t.Context()), ErrNotStarted)

	// a stopped processor starts again with a fresh partition manager
	require.NoError(t, p.Start(t.Context()))
	require.Eventually(t, func() bool { return len(p.OwnedLeases()) == 2 }, 3*time.Second, 10*time.Millisecond)
	stopProcessor(t, p)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Equal(t, 4, observer.closed[CloseReasonShutdown])
}

func TestProcessor_DeliversAndCheckpoints(t *testing.T) {
	t.Parallel()

	src := source.NewMemory("0", "1", "2", "3")
	container := memory.NewContainer()
	observer := newCountingObserver()
	appendKeys(t, src, 20)

	p, err := NewProcessor(testProcessorConfig("host-a"), src, container, observer.factory())
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))

	require.Eventually(t, func() bool { return observer.total() >= 20 }, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		work, err := p.EstimateRemainingWork(t.Context())
		if err != nil || len(work) != 4 {
			return false
		}
		for _, w := range work {
			if w.RemainingWork != 0 {
				return false
			}
		}

		return true
	}, 3*time.Second, 10*time.Millisecond)

	states, err := p.CurrentState(t.Context())
	require.NoError(t, err)
	require.Len(t, states, 4)
	for i, s := range states {
		require.Equal(t, fmt.Sprint(i), s.LeaseToken)
		require.Equal(t, "host-a", s.Owner)
		require.False(t, s.Expired)
	}

	stopProcessor(t, p)

	states, err = p.CurrentState(t.Context())
	require.NoError(t, err)
	for _, s := range states {
		require.Empty(t, s.Owner, "lease %s is released on stop", s.LeaseToken)
		require.True(t, s.Expired)
	}
}

func TestProcessor_EstimateRemainingWork_NotSupported(t *testing.T) {
	src := plainSource{inner: source.NewMemory("0")}

	p, err := NewProcessor(testProcessorConfig("host-a"), src, memory.NewContainer(), newCountingObserver().factory())
	require.NoError(t, err)

	_, err = p.EstimateRemainingWork(t.Context())
	require.ErrorIs(t, err, ErrEstimationNotSupported)
}

func TestProcessor_TwoHostsBalance(t *testing.T) {
	t.Parallel()

	src := source.NewMemory("0", "1", "2", "3")
	container := memory.NewContainer()
	observer := newCountingObserver()
	appendKeys(t, src, 40)

	a, err := NewProcessor(testProcessorConfig("host-a"), src, container, observer.factory())
	require.NoError(t, err)
	b, err := NewProcessor(testProcessorConfig("host-b"), src, container, observer.factory())
	require.NoError(t, err)

	require.NoError(t, a.Start(t.Context()))
	require.Eventually(t, func() bool { return len(a.OwnedLeases()) == 4 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Start(t.Context()))
	require.Eventually(t, func() bool {
		return len(a.OwnedLeases()) == 2 && len(b.OwnedLeases()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	// every change is delivered at least once across both hosts
	require.GreaterOrEqual(t, observer.total(), 40)

	stopProcessor(t, a)
	// host-b picks up the released leases
	require.Eventually(t, func() bool { return len(b.OwnedLeases()) == 4 }, 5*time.Second, 20*time.Millisecond)
	stopProcessor(t, b)
}

func TestProcessor_SplitRecovery(t *testing.T) {
	t.Parallel()

	src := source.NewMemory("0")
	container := memory.NewContainer()
	observer := newCountingObserver()
	appendKeys(t, src, 5)

	p, err := NewProcessor(testProcessorConfig("host-a"), src, container, observer.factory())
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	require.Eventually(t, func() bool { return observer.total() == 5 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, src.Split("0", "0a", "0b"))
	appendKeys(t, src, 10)

	require.Eventually(t, func() bool {
		owned := p.OwnedLeases()
		return len(owned) == 2 && owned[0].LeaseToken == "0a" && owned[1].LeaseToken == "0b"
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return observer.total() >= 15 }, 3*time.Second, 10*time.Millisecond)

	states, err := p.CurrentState(t.Context())
	require.NoError(t, err)
	require.Len(t, states, 2, "the parent lease is deleted")

	stopProcessor(t, p)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Equal(t, 1, observer.closed[CloseReasonLeaseGone])
}

func TestProcessor_HooksAndHealthMonitor(t *testing.T) {
	t.Parallel()

	var (
		running  atomic.Bool
		acquired atomic.Int32
		failures atomic.Int32
	)

	hooks := &Hooks{
		OnStateChanged: func(_ context.Context, _, to State) error {
			if to == StateRunning {
				running.Store(true)
			}

			return nil
		},
	}
	monitor := HealthMonitorFunc(func(_ context.Context, r HealthRecord) error {
		if r.Severity == HealthSeverityError {
			failures.Add(1)
		} else {
			acquired.Add(1)
		}

		return errors.New("monitor errors are ignored")
	})

	reg := prometheus.NewRegistry()
	p, err := NewProcessor(testProcessorConfig("host-a"), source.NewMemory("0", "1", "2"), memory.NewContainer(),
		newCountingObserver().factory(),
		WithHooks(hooks),
		WithHealthMonitor(monitor),
		WithMetrics(NewPrometheusMetrics(reg, "test")),
		WithLogger(NewNopLogger()),
	)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))

	require.Eventually(t, running.Load, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return acquired.Load() == 3 }, 3*time.Second, 10*time.Millisecond)
	require.Zero(t, failures.Load())

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	stopProcessor(t, p)
}

func TestProcessor_StartFailure(t *testing.T) {
	t.Parallel()

	container := memory.NewContainer()
	var hookErr atomic.Value

	hooks := &Hooks{
		OnError: func(_ context.Context, err error) error {
			hookErr.Store(err)
			return nil
		},
	}

	cfg := testProcessorConfig("host-a")
	p, err := NewProcessor(cfg, source.NewMemory("0"), container, newCountingObserver().factory(), WithHooks(hooks))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err = p.Start(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateStopped, p.State())
	require.Eventually(t, func() bool { return hookErr.Load() != nil }, time.Second, 10*time.Millisecond)

	// the failed run does not block a new one
	require.NoError(t, p.Start(t.Context()))
	stopProcessor(t, p)
}
