package partition

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// Options configures the partitions started by a Controller.
type Options struct {
	LeaseRenewInterval  time.Duration
	FeedPollDelay       time.Duration
	MaxItemCount        int
	StartFromBeginning  bool
	StartTime           time.Time
	CheckpointFrequency types.CheckpointFrequency

	// ReleaseTimeout bounds the lease release done when a partition stops (default: 10s).
	ReleaseTimeout time.Duration
}

// ControllerConfig holds controller configuration.
type ControllerConfig struct {
	Leases          LeaseManager
	Splitter        Splitter
	Source          types.ChangeFeedSource
	ObserverFactory types.ObserverFactory
	Options         Options

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Validate checks configuration validity.
func (c *ControllerConfig) Validate() error {
	if c.Leases == nil {
		return errors.New("the Leases manager is required")
	}
	if c.Splitter == nil {
		return errors.New("the Splitter is required")
	}
	if c.Source == nil {
		return types.ErrFeedSourceRequired
	}
	if c.ObserverFactory == nil {
		return types.ErrObserverFactoryRequired
	}
	if c.Options.LeaseRenewInterval <= 0 {
		return errors.New("the LeaseRenewInterval must be positive")
	}

	return nil
}

// Controller owns the partitions this host currently processes.
//
// It is safe for concurrent use. Supervisors run until they fail or until
// Shutdown is called, and remove themselves from the owned set on exit.
type Controller struct {
	leases          LeaseManager
	splitter        Splitter
	source          types.ChangeFeedSource
	observerFactory types.ObserverFactory
	opts            Options
	logger          types.Logger
	metrics         types.MetricsCollector

	owned *xsync.Map[string, *worker]

	ctx    context.Context //nolint:containedctx // lifetime of all supervisors
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type worker struct {
	lease        *types.Lease
	renewer      *Renewer
	checkpointer *Checkpointer
	cancel       context.CancelFunc
	done         chan struct{}
}

func (w *worker) running() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// latestLease returns the freshest copy of the worker's lease.
func (w *worker) latestLease() *types.Lease {
	renewed := w.renewer.Lease()
	checkpointed := w.checkpointer.Lease()
	if checkpointed.Timestamp.After(renewed.Timestamp) {
		return checkpointed
	}

	return renewed
}

// NewController creates a partition controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	if cfg.Options.ReleaseTimeout <= 0 {
		cfg.Options.ReleaseTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		leases:          cfg.Leases,
		splitter:        cfg.Splitter,
		source:          cfg.Source,
		observerFactory: cfg.ObserverFactory,
		opts:            cfg.Options,
		logger:          logging.OrNop(cfg.Logger),
		metrics:         metrics.OrNop(cfg.Metrics),
		owned:           xsync.NewMap[string, *worker](),
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// Initialize resumes the leases this host owned before a restart.
//
// Failing to resume a single lease is logged; failing to list leases is returned.
func (c *Controller) Initialize(ctx context.Context) error {
	owned, err := c.leases.ListOwnedLeases(ctx)
	if err != nil {
		return fmt.Errorf("failed to load owned leases: %w", err)
	}

	c.logger.Info("resuming owned leases", "count", len(owned))

	for _, l := range owned {
		if err := c.AddOrUpdateLease(ctx, l); err != nil {
			c.logger.Warn("failed to resume owned lease", "lease", l.LeaseToken, "error", err)
		}
	}

	return nil
}

// AddOrUpdateLease takes a lease and starts processing it.
//
// When the partition is already running here only the lease properties are
// updated. Otherwise the lease is acquired and a supervisor is started. Errors
// are returned so the caller knows the attempt failed.
func (c *Controller) AddOrUpdateLease(ctx context.Context, lease *types.Lease) error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("controller is shut down: %w", err)
	}

	if w, ok := c.owned.Load(lease.LeaseToken); ok && w.running() {
		if _, err := c.leases.UpdateProperties(ctx, lease); err != nil {
			c.logger.Warn("failed to update properties of owned lease", "lease", lease.LeaseToken, "error", err)
			return err
		}
		c.logger.Debug("updated properties of owned lease", "lease", lease.LeaseToken)

		return nil
	}

	acquired, err := c.leases.Acquire(ctx, lease)
	if err != nil {
		c.removeStale(lease.LeaseToken)
		c.logger.Debug("failed to acquire lease", "lease", lease.LeaseToken, "error", err)

		return err
	}

	c.logger.Info("lease acquired", "lease", acquired.LeaseToken, "continuation", acquired.ContinuationToken)
	c.start(acquired)

	return nil
}

// Shutdown cancels all supervisors without waiting for them to finish.
func (c *Controller) Shutdown() {
	c.cancel()
}

// Wait blocks until every supervisor has finished or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OwnedLeases returns a snapshot of the leases processed by this host.
func (c *Controller) OwnedLeases() []*types.Lease {
	leases := make([]*types.Lease, 0, c.owned.Size())
	c.owned.Range(func(_ string, w *worker) bool {
		if w.running() {
			leases = append(leases, w.latestLease())
		}

		return true
	})

	return leases
}

func (c *Controller) start(lease *types.Lease) {
	wctx, cancel := context.WithCancel(c.ctx)
	log := logging.With(c.logger, "lease", lease.LeaseToken)

	checkpointer := NewCheckpointer(c.leases, lease, log, c.metrics)
	w := &worker{
		lease:        lease,
		renewer:      NewRenewer(c.leases, lease, c.opts.LeaseRenewInterval, log),
		checkpointer: checkpointer,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	stored, _ := c.owned.Compute(lease.LeaseToken, func(old *worker, loaded bool) (*worker, xsync.ComputeOp) {
		if loaded && old.running() {
			return old, xsync.CancelOp
		}

		return w, xsync.UpdateOp
	})
	if stored != w {
		cancel()
		return
	}
	c.metrics.RecordOwnedPartitions(c.owned.Size())

	observer := types.ChangeFeedObserver(NewObserverErrorWrapper(c.observerFactory.CreateObserver(), log))
	if !c.opts.CheckpointFrequency.Explicit {
		observer = NewAutoCheckpointer(observer, c.opts.CheckpointFrequency, nil)
	}

	processor := NewProcessor(ProcessorConfig{
		Source:       c.source,
		Observer:     observer,
		Checkpointer: checkpointer,
		Settings: types.ProcessorSettings{
			LeaseToken:         lease.LeaseToken,
			StartContinuation:  lease.ContinuationToken,
			MaxItemCount:       c.opts.MaxItemCount,
			FeedPollDelay:      c.opts.FeedPollDelay,
			StartFromBeginning: c.opts.StartFromBeginning,
			StartTime:          c.opts.StartTime,
		},
		ExplicitCheckpoint: c.opts.CheckpointFrequency.Explicit,
		Logger:             log,
		Metrics:            c.metrics,
	})
	supervisor := NewSupervisor(lease.LeaseToken, observer, w.renewer, processor, log, c.metrics)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		err := supervisor.Run(wctx)
		close(w.done)
		cancel()
		c.onSupervisorExit(w, err)
	}()
}

func (c *Controller) onSupervisorExit(w *worker, err error) {
	lease := w.latestLease()
	log := logging.With(c.logger, "lease", lease.LeaseToken)

	var splitErr *types.PartitionSplitError
	switch {
	case errors.As(err, &splitErr):
		lease.ContinuationToken = splitErr.LastContinuation
		if c.handleSplit(lease) {
			c.forget(w)
			return
		}
	case errors.Is(err, types.ErrPartitionNotFound):
		log.Warn("partition no longer exists, deleting lease")
		c.forget(w)
		c.deleteLease(lease)

		return
	case err != nil:
		log.Warn("partition stopped", "error", err)
	}

	c.removeLease(w, lease)
}

// handleSplit creates and takes the child leases, then deletes the parent.
// It reports whether the parent lease was replaced.
func (c *Controller) handleSplit(parent *types.Lease) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.opts.ReleaseTimeout)
	defer cancel()

	log := logging.With(c.logger, "lease", parent.LeaseToken)

	children, err := c.splitter.SplitPartition(ctx, parent)
	if err != nil {
		log.Error("failed to split partition", "error", err)
		return false
	}

	for _, child := range children {
		if parent.Properties != nil {
			child.Properties = maps.Clone(parent.Properties)
		}
		if err := c.AddOrUpdateLease(ctx, child); err != nil {
			log.Warn("failed to take child lease", "child", child.LeaseToken, "error", err)
		}
	}

	if err := c.leases.Delete(ctx, parent); err != nil {
		log.Error("failed to delete split parent lease", "error", err)
		return false
	}

	log.Info("partition split handled", "children", len(children))

	return true
}

func (c *Controller) removeLease(w *worker, lease *types.Lease) {
	c.forget(w)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.opts.ReleaseTimeout)
	defer cancel()

	err := c.leases.Release(ctx, lease)
	switch {
	case err == nil:
		c.logger.Info("lease released", "lease", lease.LeaseToken)
	case errors.Is(err, types.ErrLeaseLost):
		c.logger.Info("lease was already taken by another host", "lease", lease.LeaseToken)
	default:
		c.logger.Warn("failed to release lease", "lease", lease.LeaseToken, "error", err)
	}
}

func (c *Controller) deleteLease(lease *types.Lease) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.opts.ReleaseTimeout)
	defer cancel()

	if err := c.leases.Delete(ctx, lease); err != nil {
		c.logger.Warn("failed to delete lease", "lease", lease.LeaseToken, "error", err)
	}
}

// forget removes w from the owned set if it is still the registered worker.
func (c *Controller) forget(w *worker) {
	c.owned.Compute(w.lease.LeaseToken, func(old *worker, loaded bool) (*worker, xsync.ComputeOp) {
		if loaded && old == w {
			return nil, xsync.DeleteOp
		}

		return old, xsync.CancelOp
	})
	c.metrics.RecordOwnedPartitions(c.owned.Size())
}

// removeStale drops a finished worker left in the owned set.
func (c *Controller) removeStale(leaseToken string) {
	c.owned.Compute(leaseToken, func(old *worker, loaded bool) (*worker, xsync.ComputeOp) {
		if loaded && !old.running() {
			return nil, xsync.DeleteOp
		}

		return old, xsync.CancelOp
	})
}
