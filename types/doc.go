// Package types provides the shared type definitions and interfaces of the
// changefeed library.
//
// Keeping these types in a leaf package avoids import cycles between the root
// changefeed package, its internal implementations and the pluggable stores.
//
// Key types:
//   - Lease: Persisted ownership and progress record for one partition
//   - LeaseContainer: Conditional document store holding leases
//   - ChangeFeedSource: Paginated change reads and partition enumeration
//   - ChangeFeedObserver: Per-partition user callback
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
