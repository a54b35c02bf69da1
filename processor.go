package changefeed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/changefeed/internal/balancer"
	"github.com/arloliu/changefeed/internal/bootstrap"
	"github.com/arloliu/changefeed/internal/coordinator"
	"github.com/arloliu/changefeed/internal/lease"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/internal/partition"
	"github.com/arloliu/changefeed/strategy"
)

// Processor distributes the partitions of a change feed across every host
// that shares the same lease container and lease prefix.
//
// Each host runs one Processor. The processors bootstrap one lease per
// partition, balance the leases evenly between live hosts, and deliver the
// changes of every owned partition to an observer created by the observer
// factory. Progress is checkpointed into the lease so a partition resumes
// where it left off when it moves to another host.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Start and Stop may be called repeatedly; each Start builds a fresh
//     partition manager
//
// Lifecycle:
//   - Create with NewProcessor()
//   - Call Start() to bootstrap leases and begin processing
//   - Call Stop() to release owned leases and close observers
type Processor struct {
	cfg     Config
	source  ChangeFeedSource
	factory ObserverFactory

	leases       *lease.Manager
	store        *lease.Store
	synchronizer *bootstrap.Synchronizer

	strategy      LoadBalancingStrategy
	healthMonitor HealthMonitor
	hooks         *Hooks
	metrics       MetricsCollector
	logger        Logger

	mu         sync.RWMutex
	manager    *coordinator.PartitionManager
	controller *partition.Controller
}

// NewProcessor creates a change feed processor.
//
// Returns a concrete *Processor struct following the "accept interfaces, return structs" principle.
//
// Parameters:
//   - cfg: Processor configuration; missing values are filled with defaults
//   - source: Monitored change feed
//   - container: Lease container shared by all hosts
//   - factory: Creates one observer per owned partition
//   - opts: Optional configuration (strategy, health monitor, hooks, metrics, logger)
//
// Returns:
//   - *Processor: Initialized processor
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := changefeed.DefaultConfig()
//	cfg.LeasePrefix = "orders"
//	proc, err := changefeed.NewProcessor(&cfg, src, natskv.New(kv), factory)
func NewProcessor(cfg *Config, source ChangeFeedSource, container LeaseContainer, factory ObserverFactory, opts ...Option) (*Processor, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if source == nil {
		return nil, ErrFeedSourceRequired
	}
	if container == nil {
		return nil, ErrLeaseContainerRequired
	}
	if factory == nil {
		return nil, ErrObserverFactoryRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	options := &processorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	metricsCollector := metrics.OrNop(options.metrics)
	loggerInstance := logging.With(logging.OrNop(options.logger), "host", cfg.HostName)

	cfg.ValidateWithWarnings(loggerInstance)

	leases, err := lease.NewManager(lease.ManagerConfig{
		Container: container,
		Prefix:    cfg.LeasePrefix,
		HostName:  cfg.HostName,
		Logger:    loggerInstance,
		Metrics:   metricsCollector,
	})
	if err != nil {
		return nil, err
	}

	store, err := lease.NewStore(lease.StoreConfig{
		Container: container,
		Prefix:    cfg.LeasePrefix,
		Logger:    loggerInstance,
	})
	if err != nil {
		return nil, err
	}

	balancingStrategy := options.strategy
	if balancingStrategy == nil {
		balancingStrategy = strategy.NewEqualPartitions(cfg.HostName, cfg.LeaseExpirationInterval,
			strategy.WithMinPartitionCount(cfg.MinScaleCount),
			strategy.WithMaxPartitionCount(cfg.MaxScaleCount),
		)
	}

	return &Processor{
		cfg:           *cfg,
		source:        source,
		factory:       factory,
		leases:        leases,
		store:         store,
		synchronizer:  bootstrap.NewSynchronizer(source, leases, cfg.DegreeOfParallelism, loggerInstance),
		strategy:      balancingStrategy,
		healthMonitor: options.healthMonitor,
		hooks:         options.hooks,
		metrics:       metricsCollector,
		logger:        loggerInstance,
	}, nil
}

// HostName returns the owner name this processor writes into leases.
func (p *Processor) HostName() string {
	return p.cfg.HostName
}

// State returns the lifecycle state of the current run.
//
// A processor that was never started reports StateInit.
func (p *Processor) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.manager == nil {
		return StateInit
	}

	return p.manager.State()
}

// Start bootstraps the lease collection, resumes the leases this host owns
// and starts balancing. It blocks until the first two are done.
//
// Parameters:
//   - ctx: Context for cancellation and timeout of the startup
//
// Returns:
//   - error: ErrAlreadyStarted, or the first failing startup step
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.manager != nil && p.manager.State() != StateStopped {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}

	manager, controller, err := p.build()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.manager = manager
	p.controller = controller
	p.mu.Unlock()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	p.logger.Info("change feed processor started", "prefix", p.cfg.LeasePrefix)

	return nil
}

// build wires a fresh controller, balancer and partition manager.
func (p *Processor) build() (*coordinator.PartitionManager, *partition.Controller, error) {
	controller, err := partition.NewController(partition.ControllerConfig{
		Leases:          p.leases,
		Splitter:        p.synchronizer,
		Source:          p.source,
		ObserverFactory: p.factory,
		Options: partition.Options{
			LeaseRenewInterval:  p.cfg.LeaseRenewInterval,
			FeedPollDelay:       p.cfg.FeedPollDelay,
			MaxItemCount:        p.cfg.MaxItemCount,
			StartFromBeginning:  p.cfg.StartFromBeginning,
			StartTime:           p.cfg.StartTime,
			CheckpointFrequency: p.cfg.CheckpointFrequency,
		},
		Logger:  p.logger,
		Metrics: p.metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	var acquirer partition.PartitionController = controller
	if p.healthMonitor != nil {
		acquirer = partition.NewHealthMonitoringController(controller, p.healthMonitor, p.logger)
	}

	lb, err := balancer.New(balancer.Config{
		Leases:          p.leases,
		Controller:      acquirer,
		Strategy:        p.strategy,
		AcquireInterval: p.cfg.LeaseAcquireInterval,
		Logger:          p.logger,
		Metrics:         p.metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	manager, err := coordinator.New(coordinator.Config{
		Bootstrapper: bootstrap.NewBootstrapper(bootstrap.Config{
			Synchronizer: p.synchronizer,
			Store:        p.store,
			LockTTL:      p.cfg.BootstrapLockTTL,
			RetryDelay:   p.cfg.BootstrapRetryDelay,
			Logger:       p.logger,
		}),
		Controller: acquirer,
		Balancer:   lb,
		Drainer:    controller,
		Hooks:      p.hooks,
		Logger:     p.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return manager, controller, nil
}

// Stop stops balancing, closes every owned partition and releases its lease.
//
// The shutdown is bounded by ShutdownTimeout in addition to ctx.
//
// Returns:
//   - error: ErrNotStarted if not running, or a timeout while draining partitions
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.RLock()
	manager := p.manager
	p.mu.RUnlock()

	if manager == nil {
		return ErrNotStarted
	}

	stopCtx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()

	if err := manager.Stop(stopCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown timeout exceeded: %w", err)
		}

		return err
	}

	p.logger.Info("change feed processor stopped")

	return nil
}

// OwnedLeases returns the leases this host is processing right now, ordered
// by lease token.
func (p *Processor) OwnedLeases() []*Lease {
	p.mu.RLock()
	controller := p.controller
	p.mu.RUnlock()

	if controller == nil {
		return nil
	}

	owned := controller.OwnedLeases()
	slices.SortFunc(owned, func(a, b *Lease) int {
		return strings.Compare(a.LeaseToken, b.LeaseToken)
	})

	return owned
}

// EstimateRemainingWork returns the number of unprocessed changes of every
// lease, whoever owns it.
//
// Returns:
//   - []RemainingPartitionWork: One entry per lease, ordered by lease token
//   - error: ErrEstimationNotSupported when the source cannot estimate, or a store error
func (p *Processor) EstimateRemainingWork(ctx context.Context) ([]RemainingPartitionWork, error) {
	estimator, ok := p.source.(RemainingWorkEstimator)
	if !ok {
		return nil, ErrEstimationNotSupported
	}

	all, err := p.leases.ListAllLeases(ctx)
	if err != nil {
		return nil, err
	}

	work := make([]RemainingPartitionWork, 0, len(all))
	for _, l := range all {
		remaining, err := estimator.EstimateRemaining(ctx, l.LeaseToken, l.ContinuationToken)
		if err != nil {
			return nil, fmt.Errorf("failed to estimate remaining work of %s: %w", l.LeaseToken, err)
		}
		work = append(work, RemainingPartitionWork{LeaseToken: l.LeaseToken, RemainingWork: remaining})
	}
	slices.SortFunc(work, func(a, b RemainingPartitionWork) int {
		return strings.Compare(a.LeaseToken, b.LeaseToken)
	})

	return work, nil
}

// CurrentState returns a snapshot of every lease of the deployment.
func (p *Processor) CurrentState(ctx context.Context) ([]LeaseState, error) {
	all, err := p.leases.ListAllLeases(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	states := make([]LeaseState, 0, len(all))
	for _, l := range all {
		states = append(states, LeaseState{
			LeaseToken:        l.LeaseToken,
			Owner:             l.Owner,
			ContinuationToken: l.ContinuationToken,
			Timestamp:         l.Timestamp,
			Expired:           l.IsExpired(now, p.cfg.LeaseExpirationInterval),
		})
	}
	slices.SortFunc(states, func(a, b LeaseState) int {
		return strings.Compare(a.LeaseToken, b.LeaseToken)
	})

	return states, nil
}
