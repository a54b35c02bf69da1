// Package coordinator sequences the startup and shutdown of one host's
// partition processing: bootstrap, resume owned leases, balance.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/changefeed/internal/hooks"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

// Bootstrapper seeds the lease collection once per deployment.
type Bootstrapper interface {
	Initialize(ctx context.Context) error
}

// Controller resumes owned leases and can be shut down.
type Controller interface {
	Initialize(ctx context.Context) error
	Shutdown()
}

// Balancer is the load-balancing loop.
type Balancer interface {
	Start(ctx context.Context) error
	Stop() error
}

// Drainer waits for the controller's partitions to finish.
type Drainer interface {
	Wait(ctx context.Context) error
}

// Config holds the components sequenced by a PartitionManager.
type Config struct {
	Bootstrapper Bootstrapper
	Controller   Controller
	Balancer     Balancer
	Drainer      Drainer // optional

	Hooks  *types.Hooks
	Logger types.Logger
}

// PartitionManager starts and stops the partition processing of one host.
//
// A PartitionManager is single-use: once started, Start fails with
// types.ErrAlreadyStarted even after Stop.
type PartitionManager struct {
	bootstrapper Bootstrapper
	controller   Controller
	balancer     Balancer
	drainer      Drainer
	hooks        types.Hooks
	logger       types.Logger

	state atomic.Int32 // types.State

	mu     sync.Mutex
	ctx    context.Context //nolint:containedctx // passed to hooks
	cancel context.CancelFunc
}

// New creates a partition manager.
func New(cfg Config) (*PartitionManager, error) {
	if cfg.Bootstrapper == nil || cfg.Controller == nil || cfg.Balancer == nil {
		return nil, fmt.Errorf("%w: bootstrapper, controller and balancer are required", types.ErrInvalidConfig)
	}

	m := &PartitionManager{
		bootstrapper: cfg.Bootstrapper,
		controller:   cfg.Controller,
		balancer:     cfg.Balancer,
		drainer:      cfg.Drainer,
		hooks:        hooks.Fill(cfg.Hooks),
		logger:       logging.OrNop(cfg.Logger),
	}
	m.state.Store(int32(types.StateInit))

	return m, nil
}

// State returns the current lifecycle state.
func (m *PartitionManager) State() types.State {
	return types.State(m.state.Load())
}

// Start bootstraps the lease collection, resumes the leases this host owned
// and starts the load balancer. It blocks until all three are done.
//
// Returns:
//   - error: types.ErrAlreadyStarted, or the first failing step
func (m *PartitionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return types.ErrAlreadyStarted
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.transition(types.StateBootstrapping)
	if err := m.bootstrapper.Initialize(ctx); err != nil {
		return m.fail(fmt.Errorf("failed to bootstrap leases: %w", err))
	}

	m.transition(types.StateResuming)
	if err := m.controller.Initialize(ctx); err != nil {
		m.controller.Shutdown()
		return m.fail(fmt.Errorf("failed to resume owned leases: %w", err))
	}

	if err := m.balancer.Start(ctx); err != nil {
		m.controller.Shutdown()
		return m.fail(fmt.Errorf("failed to start load balancer: %w", err))
	}

	m.transition(types.StateRunning)

	return nil
}

// Stop stops the load balancer, shuts the controller down and waits for the
// owned partitions to close until ctx is done.
//
// Returns:
//   - error: types.ErrNotStarted if not running, or ctx.Err() when draining times out
func (m *PartitionManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx == nil || m.State() != types.StateRunning {
		m.mu.Unlock()
		return types.ErrNotStarted
	}
	m.transition(types.StateStopping)
	m.mu.Unlock()

	if err := m.balancer.Stop(); err != nil && !errors.Is(err, types.ErrNotStarted) {
		m.logger.Warn("failed to stop load balancer", "error", err)
	}
	m.controller.Shutdown()

	var err error
	if m.drainer != nil {
		if err = m.drainer.Wait(ctx); err != nil {
			m.logger.Error("shutdown timeout exceeded, some partitions may still be closing", "error", err)
		}
	}

	m.transition(types.StateStopped)
	m.cancel()

	if err == nil {
		m.logger.Info("partition manager stopped")
	}

	return err
}

func (m *PartitionManager) fail(err error) error {
	m.logger.Error("partition manager failed to start", "error", err)

	ctx := context.WithoutCancel(m.ctx)
	go func() {
		if hookErr := m.hooks.OnError(ctx, err); hookErr != nil {
			m.logger.Warn("error hook failed", "error", hookErr)
		}
	}()

	m.transition(types.StateStopped)
	m.cancel()

	return err
}

func (m *PartitionManager) transition(to types.State) {
	from := types.State(m.state.Swap(int32(to))) //nolint:gosec // State values are controlled enum
	if from == to {
		return
	}

	m.logger.Info("state transition", "from", from.String(), "to", to.String())

	ctx := m.ctx
	go func() {
		if err := m.hooks.OnStateChanged(ctx, from, to); err != nil {
			m.logger.Warn("state change hook error", "from", from.String(), "to", to.String(), "error", err)
		}
	}()
}
