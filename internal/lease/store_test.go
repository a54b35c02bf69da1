package lease

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestStore_Initialization(t *testing.T) {
	t.Parallel()

	s, err := NewStore(StoreConfig{Container: memory.NewContainer(), Prefix: testPrefix})
	require.NoError(t, err)

	initialized, err := s.IsInitialized(t.Context())
	require.NoError(t, err)
	require.False(t, initialized)

	require.NoError(t, s.MarkInitialized(t.Context()))
	require.NoError(t, s.MarkInitialized(t.Context()))

	initialized, err = s.IsInitialized(t.Context())
	require.NoError(t, err)
	require.True(t, initialized)
}

func TestStore_Lock(t *testing.T) {
	t.Parallel()

	container := memory.NewContainer()
	a, err := NewStore(StoreConfig{Container: container, Prefix: testPrefix, LockOwner: "a"})
	require.NoError(t, err)
	b, err := NewStore(StoreConfig{Container: container, Prefix: testPrefix, LockOwner: "b"})
	require.NoError(t, err)

	ok, err := a.AcquireInitializationLock(t.Context(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.AcquireInitializationLock(t.Context(), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	released, err := b.ReleaseInitializationLock(t.Context())
	require.NoError(t, err)
	require.False(t, released, "b never held the lock")

	released, err = a.ReleaseInitializationLock(t.Context())
	require.NoError(t, err)
	require.True(t, released)

	ok, err = b.AcquireInitializationLock(t.Context(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStore_ExpiredLockIsTakenOver(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	container := memory.NewContainer()
	a, err := NewStore(StoreConfig{Container: container, Prefix: testPrefix, LockOwner: "a", Now: clock.Now})
	require.NoError(t, err)
	b, err := NewStore(StoreConfig{Container: container, Prefix: testPrefix, LockOwner: "b", Now: clock.Now})
	require.NoError(t, err)

	ok, err := a.AcquireInitializationLock(t.Context(), 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(31 * time.Second)

	ok, err = b.AcquireInitializationLock(t.Context(), 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := a.ReleaseInitializationLock(t.Context())
	require.NoError(t, err)
	require.False(t, released, "a's lock was taken over")

	released, err = b.ReleaseInitializationLock(t.Context())
	require.NoError(t, err)
	require.True(t, released)
}
