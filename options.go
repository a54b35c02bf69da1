package changefeed

// Option configures a Processor with optional dependencies.
type Option func(*processorOptions)

// processorOptions holds optional Processor configuration.
type processorOptions struct {
	strategy      LoadBalancingStrategy
	healthMonitor HealthMonitor
	hooks         *Hooks
	metrics       MetricsCollector
	logger        Logger
}

// WithStrategy replaces the default equal-partitions load balancing strategy.
//
// Parameters:
//   - strategy: LoadBalancingStrategy implementation
//
// Returns:
//   - Option: Functional option for NewProcessor
//
// Example:
//
//	s := strategy.NewEqualPartitions(cfg.HostName, cfg.LeaseExpirationInterval, strategy.WithMaxPartitionCount(4))
//	proc, err := changefeed.NewProcessor(&cfg, src, container, factory, changefeed.WithStrategy(s))
func WithStrategy(strategy LoadBalancingStrategy) Option {
	return func(o *processorOptions) {
		o.strategy = strategy
	}
}

// WithHealthMonitor reports every lease acquisition attempt to monitor.
//
// Parameters:
//   - monitor: HealthMonitor implementation
//
// Returns:
//   - Option: Functional option for NewProcessor
//
// Example:
//
//	monitor := changefeed.HealthMonitorFunc(func(ctx context.Context, r changefeed.HealthRecord) error {
//	    if r.Severity == changefeed.HealthSeverityError {
//	        alert(r.Err)
//	    }
//	    return nil
//	})
//	proc, err := changefeed.NewProcessor(&cfg, src, container, factory, changefeed.WithHealthMonitor(monitor))
func WithHealthMonitor(monitor HealthMonitor) Option {
	return func(o *processorOptions) {
		o.healthMonitor = monitor
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewProcessor
func WithHooks(hooks *Hooks) Option {
	return func(o *processorOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation, e.g. NewPrometheusMetrics
//
// Returns:
//   - Option: Functional option for NewProcessor
//
// Example:
//
//	metrics := changefeed.NewPrometheusMetrics(prometheus.DefaultRegisterer, "orders")
//	proc, err := changefeed.NewProcessor(&cfg, src, container, factory, changefeed.WithMetrics(metrics))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *processorOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewProcessor
//
// Example:
//
//	proc, err := changefeed.NewProcessor(&cfg, src, container, factory, changefeed.WithLogger(changefeed.NewSlogLogger(slog.Default())))
func WithLogger(logger Logger) Option {
	return func(o *processorOptions) {
		o.logger = logger
	}
}
