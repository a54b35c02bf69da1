// Package changefeed distributes the partitions of a change feed across
// cooperating hosts and delivers every change at least once.
//
// Hosts coordinate only through a shared lease container: one lease document
// per partition records the owning host, the last checkpointed continuation
// and a concurrency token used for conditional writes. No host is special.
//
// # Quick Start
//
//	cfg := changefeed.DefaultConfig()
//	cfg.LeasePrefix = "orders"
//
//	factory := changefeed.ObserverFactoryFunc(func() changefeed.ChangeFeedObserver {
//	    return &orderObserver{}
//	})
//
//	proc, err := changefeed.NewProcessor(&cfg, src, natskv.New(kv), factory)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := proc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer proc.Stop(context.Background())
//
// # Key Features
//
//   - One owner per partition, enforced with optimistic concurrency on lease documents
//   - Even distribution of leases between live hosts, including stealing from busy hosts
//   - Automatic recovery from partition splits: child leases resume from the parent's checkpoint
//   - Automatic or explicit checkpointing
//   - Pluggable lease containers: in-memory, NATS JetStream KV, SQL databases
//
// # Architecture
//
// Each processor progresses through a state machine:
//
//	INIT → BOOTSTRAPPING → RESUMING → RUNNING → STOPPING → STOPPED
//
// Bootstrapping creates one lease per partition exactly once per deployment,
// guarded by an initialization lock. Resuming restarts the partitions this host
// already owns. While running, a balancing loop periodically lists all leases
// and acquires the ones the strategy selects; every owned partition runs a
// lease renewer and a feed reader until the lease is lost, the partition is
// split or gone, the observer fails, or the host stops.
//
// # Delivery Semantics
//
// Changes are delivered at least once. A batch is checkpointed only after the
// observer returned successfully, so a batch may be delivered again after a
// crash or a lease move. Ordering holds within a partition only.
//
// # Thread Safety
//
// Processor methods are safe for concurrent use. Observer callbacks of one
// partition are never concurrent with each other; callbacks of different
// partitions run concurrently.
//
// # Observability
//
// Use WithLogger and WithMetrics (NewPrometheusMetrics) to attach structured
// logging and metrics, WithHealthMonitor to observe acquisition failures, and
// WithHooks to observe lifecycle transitions.
package changefeed
