// Package balancer runs the load-balancing loop that hands leases to the
// partition controller.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// DefaultAcquireInterval is the pause between balancing cycles.
const DefaultAcquireInterval = 13 * time.Second

// LeaseLister lists every lease of the deployment.
type LeaseLister interface {
	ListAllLeases(ctx context.Context) ([]*types.Lease, error)
}

// Controller receives the leases selected for this host.
type Controller interface {
	AddOrUpdateLease(ctx context.Context, lease *types.Lease) error
	Shutdown()
}

// Config holds load balancer configuration.
type Config struct {
	Leases          LeaseLister
	Controller      Controller
	Strategy        types.LoadBalancingStrategy
	AcquireInterval time.Duration // default: 13s

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Leases == nil {
		return errors.New("the Leases lister is required")
	}
	if c.Controller == nil {
		return errors.New("the Controller is required")
	}
	if c.Strategy == nil {
		return errors.New("the Strategy is required")
	}

	return nil
}

// LoadBalancer periodically asks the strategy which leases to take and passes
// them to the controller one at a time.
type LoadBalancer struct {
	leases     LeaseLister
	controller Controller
	strategy   types.LoadBalancingStrategy
	interval   time.Duration
	logger     types.Logger
	metrics    types.MetricsCollector

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// New creates a load balancer.
//
// Returns:
//   - *LoadBalancer: Initialized load balancer
//   - error: types.ErrInvalidConfig when a collaborator is missing
func New(cfg Config) (*LoadBalancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	if cfg.AcquireInterval <= 0 {
		cfg.AcquireInterval = DefaultAcquireInterval
	}

	return &LoadBalancer{
		leases:     cfg.Leases,
		controller: cfg.Controller,
		strategy:   cfg.Strategy,
		interval:   cfg.AcquireInterval,
		logger:     logging.OrNop(cfg.Logger),
		metrics:    metrics.OrNop(cfg.Metrics),
	}, nil
}

// Start runs the balancing loop in the background. The first cycle runs
// immediately.
//
// The loop is not bound to ctx's cancellation; it runs until Stop is called.
//
// Returns:
//   - error: types.ErrAlreadyStarted if the loop is running
func (b *LoadBalancer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return types.ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.started = true
	b.cancel = cancel
	b.doneCh = make(chan struct{})

	go b.run(loopCtx, b.doneCh)

	b.logger.Info("load balancer started", "interval", b.interval)

	return nil
}

// Stop cancels the loop, waits for the running cycle to finish and shuts
// the controller down.
//
// Returns:
//   - error: types.ErrNotStarted if the loop is not running
func (b *LoadBalancer) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return types.ErrNotStarted
	}

	b.started = false
	b.cancel()
	done := b.doneCh
	b.mu.Unlock()

	<-done
	b.controller.Shutdown()

	b.logger.Info("load balancer stopped")

	return nil
}

func (b *LoadBalancer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		b.balance(ctx)
		timer.Reset(b.interval)
	}
}

// balance runs one cycle. Failures are logged and the next cycle retries.
func (b *LoadBalancer) balance(ctx context.Context) {
	start := time.Now()

	all, err := b.leases.ListAllLeases(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("failed to list leases", "error", err)
		}

		return
	}

	selected := b.strategy.SelectLeasesToTake(all)

	failed := 0
	for _, l := range selected {
		if ctx.Err() != nil {
			break
		}
		if err := b.controller.AddOrUpdateLease(ctx, l); err != nil {
			failed++
			b.logger.Debug("failed to take lease", "lease", l.LeaseToken, "error", err)
		}
	}

	b.metrics.RecordBalanceCycle(len(selected), failed, time.Since(start).Seconds())
	if len(selected) > 0 {
		b.logger.Info("balancing cycle completed", "leases", len(all), "selected", len(selected), "failed", failed)
	}
}
