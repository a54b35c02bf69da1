package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/changefeed/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use so that
// constructing a collector never panics on duplicate registration until it is
// actually used.
type PrometheusCollector struct {
	*NopMetrics

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	leaseOps        *prometheus.CounterVec
	leaseLatency    *prometheus.HistogramVec
	leaseConflicts  *prometheus.CounterVec
	batches         prometheus.Counter
	items           prometheus.Counter
	batchLatency    prometheus.Histogram
	checkpoints     *prometheus.CounterVec
	feedErrors      *prometheus.CounterVec
	closes          *prometheus.CounterVec
	ownedPartitions prometheus.Gauge
	balanceCycles   prometheus.Counter
	balanceSelected prometheus.Counter
	balanceFailed   prometheus.Counter
	balanceLatency  prometheus.Histogram
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "changefeed" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "changefeed"
	}

	return &PrometheusCollector{NopMetrics: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.leaseOps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "operations_total",
			Help:      "Total lease operations by operation and result.",
		}, []string{"op", "success"})
		p.leaseLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "operation_duration_seconds",
			Help:      "Latency of lease operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"op"})
		p.leaseConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lease",
			Name:      "conflicts_total",
			Help:      "Optimistic-concurrency conflicts that caused a lease update retry.",
		}, []string{"op"})

		p.batches = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "partition",
			Name:      "batches_total",
			Help:      "Total batches delivered to observers.",
		})
		p.items = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "partition",
			Name:      "items_total",
			Help:      "Total change feed items delivered to observers.",
		})
		p.batchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "partition",
			Name:      "batch_duration_seconds",
			Help:      "Observer processing time per batch in seconds.",
			Buckets:   prometheus.DefBuckets,
		})
		p.checkpoints = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "partition",
			Name:      "checkpoints_total",
			Help:      "Total checkpoint writes by result.",
		}, []string{"success"})
		p.feedErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "partition",
			Name:      "feed_errors_total",
			Help:      "Classified change feed read errors by kind.",
		}, []string{"kind"})
		p.closes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "partition",
			Name:      "closed_total",
			Help:      "Partition supervisor exits by close reason.",
		}, []string{"reason"})
		p.ownedPartitions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "partition",
			Name:      "owned",
			Help:      "Number of partitions currently owned by this host.",
		})

		p.balanceCycles = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "cycles_total",
			Help:      "Total load balancing cycles.",
		})
		p.balanceSelected = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "leases_selected_total",
			Help:      "Total leases selected by the load balancing strategy.",
		})
		p.balanceFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "acquire_failures_total",
			Help:      "Total selected leases that could not be acquired.",
		})
		p.balanceLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "balancer",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of load balancing cycles in seconds.",
			Buckets:   prometheus.DefBuckets,
		})

		p.reg.MustRegister(
			p.leaseOps, p.leaseLatency, p.leaseConflicts,
			p.batches, p.items, p.batchLatency, p.checkpoints, p.feedErrors, p.closes, p.ownedPartitions,
			p.balanceCycles, p.balanceSelected, p.balanceFailed, p.balanceLatency,
		)
	})
}

// RecordLeaseOperation records the outcome and latency of a lease operation.
func (p *PrometheusCollector) RecordLeaseOperation(operation string, success bool, duration float64) {
	p.ensureRegistered()
	p.leaseOps.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	p.leaseLatency.WithLabelValues(operation).Observe(duration)
}

// RecordLeaseConflict records a lease update retry caused by a conflict.
func (p *PrometheusCollector) RecordLeaseConflict(operation string) {
	p.ensureRegistered()
	p.leaseConflicts.WithLabelValues(operation).Inc()
}

// RecordBatchProcessed records a delivered batch.
func (p *PrometheusCollector) RecordBatchProcessed(items int, duration float64) {
	p.ensureRegistered()
	p.batches.Inc()
	p.items.Add(float64(items))
	p.batchLatency.Observe(duration)
}

// RecordCheckpoint records a checkpoint write.
func (p *PrometheusCollector) RecordCheckpoint(success bool) {
	p.ensureRegistered()
	p.checkpoints.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordFeedError records a classified feed error.
func (p *PrometheusCollector) RecordFeedError(kind string) {
	p.ensureRegistered()
	p.feedErrors.WithLabelValues(kind).Inc()
}

// RecordPartitionClosed records a supervisor exit.
func (p *PrometheusCollector) RecordPartitionClosed(reason string) {
	p.ensureRegistered()
	p.closes.WithLabelValues(reason).Inc()
}

// RecordOwnedPartitions sets the owned partitions gauge.
func (p *PrometheusCollector) RecordOwnedPartitions(count int) {
	p.ensureRegistered()
	p.ownedPartitions.Set(float64(count))
}

// RecordBalanceCycle records a load balancing cycle.
func (p *PrometheusCollector) RecordBalanceCycle(selected int, failed int, duration float64) {
	p.ensureRegistered()
	p.balanceCycles.Inc()
	p.balanceSelected.Add(float64(selected))
	p.balanceFailed.Add(float64(failed))
	p.balanceLatency.Observe(duration)
}
