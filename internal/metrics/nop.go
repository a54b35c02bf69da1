package metrics

import "github.com/arloliu/changefeed/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	proc, err := changefeed.NewProcessor(&cfg, src, leases, factory, changefeed.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// OrNop returns collector, or a NopMetrics when collector is nil.
func OrNop(collector types.MetricsCollector) types.MetricsCollector {
	if collector == nil {
		return NewNop()
	}

	return collector
}

// LeaseMetrics implementation

// RecordLeaseOperation discards the lease operation metric.
func (n *NopMetrics) RecordLeaseOperation(_ /* operation */ string, _ /* success */ bool, _ /* duration */ float64) {
}

// RecordLeaseConflict discards the lease conflict metric.
func (n *NopMetrics) RecordLeaseConflict(_ /* operation */ string) {}

// PartitionMetrics implementation

// RecordBatchProcessed discards the batch metric.
func (n *NopMetrics) RecordBatchProcessed(_ /* items */ int, _ /* duration */ float64) {}

// RecordCheckpoint discards the checkpoint metric.
func (n *NopMetrics) RecordCheckpoint(_ /* success */ bool) {}

// RecordFeedError discards the feed error metric.
func (n *NopMetrics) RecordFeedError(_ /* kind */ string) {}

// RecordPartitionClosed discards the close metric.
func (n *NopMetrics) RecordPartitionClosed(_ /* reason */ string) {}

// RecordOwnedPartitions discards the owned partitions gauge.
func (n *NopMetrics) RecordOwnedPartitions(_ /* count */ int) {}

// BalancerMetrics implementation

// RecordBalanceCycle discards the balance cycle metric.
func (n *NopMetrics) RecordBalanceCycle(_ /* selected */ int, _ /* failed */ int, _ /* duration */ float64) {
}
