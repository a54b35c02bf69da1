package kvutil_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/internal/kvutil"
	cftest "github.com/arloliu/changefeed/testing"
)

func TestLeaseBucketConfig(t *testing.T) {
	cfg := kvutil.LeaseBucketConfig("leases", 0)

	require.Equal(t, "leases", cfg.Bucket)
	require.Equal(t, 1, cfg.Replicas)
	require.Equal(t, uint8(1), cfg.History)
	require.Zero(t, cfg.TTL)

	require.Equal(t, 3, kvutil.LeaseBucketConfig("leases", 3).Replicas)
}

// TestEnsureKVBucketWithRetry_Concurrent verifies that hosts racing to create
// the same bucket all end up with a usable handle.
func TestEnsureKVBucketWithRetry_Concurrent(t *testing.T) {
	_, nc := cftest.StartEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	const hosts = 8
	var wg sync.WaitGroup
	kvs := make([]jetstream.KeyValue, hosts)
	errs := make([]error, hosts)

	for i := range hosts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kvs[i], errs[i] = kvutil.EnsureKVBucketWithRetry(ctx, js, kvutil.LeaseBucketConfig("race", 1), 5)
		}()
	}
	wg.Wait()

	for i := range hosts {
		require.NoError(t, errs[i], "host %d", i)
		require.NotNil(t, kvs[i])
	}

	_, err = kvs[0].Create(ctx, "k", []byte("v"))
	require.NoError(t, err)
	entry, err := kvs[hosts-1].Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), entry.Value())
}

func TestEnsureKVBucketWithRetry_CanceledContext(t *testing.T) {
	_, nc := cftest.StartEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = kvutil.EnsureKVBucketWithRetry(ctx, js, kvutil.LeaseBucketConfig("canceled", 1), 3)
	require.ErrorIs(t, err, context.Canceled)
}
