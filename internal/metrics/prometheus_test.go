package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordLeaseOperation("acquire", true, 0.01)
	p.RecordLeaseOperation("acquire", false, 0.02)
	p.RecordLeaseConflict("acquire")
	p.RecordBatchProcessed(5, 0.1)
	p.RecordBatchProcessed(3, 0.1)
	p.RecordCheckpoint(true)
	p.RecordFeedError("throttled")
	p.RecordPartitionClosed("lease_lost")
	p.RecordOwnedPartitions(4)
	p.RecordBalanceCycle(2, 1, 0.3)

	require.InDelta(t, 1, testutil.ToFloat64(p.leaseOps.WithLabelValues("acquire", "true")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.leaseOps.WithLabelValues("acquire", "false")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.leaseConflicts.WithLabelValues("acquire")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(p.batches), 0)
	require.InDelta(t, 8, testutil.ToFloat64(p.items), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.checkpoints.WithLabelValues("true")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.feedErrors.WithLabelValues("throttled")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.closes.WithLabelValues("lease_lost")), 0)
	require.InDelta(t, 4, testutil.ToFloat64(p.ownedPartitions), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.balanceFailed), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
	require.Equal(t, "test", p.namespace)
}

func TestPrometheusCollector_Defaults(t *testing.T) {
	p := NewPrometheus(prometheus.NewRegistry(), "")
	require.Equal(t, "changefeed", p.namespace)
}
