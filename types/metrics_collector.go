package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	LeaseMetrics
	PartitionMetrics
	BalancerMetrics
}

// LeaseMetrics defines metrics for lease manager operations.
type LeaseMetrics interface {
	// RecordLeaseOperation records the outcome of a lease operation.
	//
	// Parameters:
	//   - operation: Operation name ("acquire", "renew", "release", "checkpoint", "update_properties", "delete", "create")
	//   - success: true if the operation succeeded
	//   - duration: Time taken in seconds
	RecordLeaseOperation(operation string, success bool, duration float64)

	// RecordLeaseConflict records an optimistic-concurrency conflict that caused a retry.
	RecordLeaseConflict(operation string)
}

// PartitionMetrics defines metrics for per-partition processing.
type PartitionMetrics interface {
	// RecordBatchProcessed records a batch delivered to an observer.
	RecordBatchProcessed(items int, duration float64)

	// RecordCheckpoint records a checkpoint write.
	RecordCheckpoint(success bool)

	// RecordFeedError records a classified change feed error.
	//
	// Parameters:
	//   - kind: Error class ("not_found", "split", "throttled", "server", "page_too_large", "other")
	RecordFeedError(kind string)

	// RecordPartitionClosed records a supervisor exit with its close reason.
	RecordPartitionClosed(reason string)

	// RecordOwnedPartitions sets the number of partitions owned by this host (gauge metric).
	RecordOwnedPartitions(count int)
}

// BalancerMetrics defines metrics for the load balancer loop.
type BalancerMetrics interface {
	// RecordBalanceCycle records one load balancing cycle.
	//
	// Parameters:
	//   - selected: Number of leases the strategy selected
	//   - failed: Number of selected leases that could not be acquired
	//   - duration: Time taken in seconds
	RecordBalanceCycle(selected int, failed int, duration float64)
}
