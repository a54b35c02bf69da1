package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/changefeed/internal/backoff"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

// LeaseStore is the bootstrap marker and lock used by the bootstrapper.
type LeaseStore interface {
	IsInitialized(ctx context.Context) (bool, error)
	MarkInitialized(ctx context.Context) error
	AcquireInitializationLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseInitializationLock(ctx context.Context) (bool, error)
}

// LeaseSynchronizer seeds the lease collection.
type LeaseSynchronizer interface {
	CreateMissingLeases(ctx context.Context) (complete bool, err error)
}

// Config holds bootstrapper configuration.
type Config struct {
	Synchronizer LeaseSynchronizer
	Store        LeaseStore

	LockTTL    time.Duration // Initialization lock lifetime (default: 30s)
	RetryDelay time.Duration // Wait between lock attempts (default: 15s)

	Logger types.Logger
}

// Bootstrapper performs the one-time, cross-process-safe lease seeding.
type Bootstrapper struct {
	synchronizer LeaseSynchronizer
	store        LeaseStore
	lockTTL      time.Duration
	retryDelay   time.Duration
	logger       types.Logger
}

// NewBootstrapper creates a bootstrapper.
func NewBootstrapper(cfg Config) *Bootstrapper {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 15 * time.Second
	}

	return &Bootstrapper{
		synchronizer: cfg.Synchronizer,
		store:        cfg.Store,
		lockTTL:      cfg.LockTTL,
		retryDelay:   cfg.RetryDelay,
		logger:       logging.OrNop(cfg.Logger),
	}
}

// Initialize blocks until the lease collection is bootstrapped.
//
// Every host runs this loop; the one holding the initialization lock seeds the
// leases and writes the completion marker while the others wait and re-check.
// Store errors while checking or locking are retried after the retry delay,
// as is a seeding pass that could not enumerate partitions. Any other error
// inside the locked section releases the lock and is returned.
func (b *Bootstrapper) Initialize(ctx context.Context) error {
	for {
		initialized, err := b.store.IsInitialized(ctx)
		if err != nil {
			b.logger.Warn("failed to check lease store initialization, retrying", "error", err)
		} else if initialized {
			b.logger.Debug("lease store already initialized")
			return nil
		} else {
			locked, err := b.store.AcquireInitializationLock(ctx, b.lockTTL)
			if err != nil {
				b.logger.Warn("failed to acquire initialization lock, retrying", "error", err)
			} else if locked {
				done, err := b.initializeLocked(ctx)
				if err != nil || done {
					return err
				}
				b.logger.Warn("lease seeding incomplete, retrying", "delay", b.retryDelay)
			} else {
				b.logger.Info("another host is initializing the lease store, waiting", "delay", b.retryDelay)
			}
		}

		if err := backoff.Wait(ctx, b.retryDelay); err != nil {
			return err
		}
	}
}

func (b *Bootstrapper) initializeLocked(ctx context.Context) (bool, error) {
	defer func() {
		// Released even when ctx is canceled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.lockTTL)
		defer cancel()

		if _, relErr := b.store.ReleaseInitializationLock(releaseCtx); relErr != nil {
			b.logger.Warn("failed to release initialization lock", "error", relErr)
		}
	}()

	b.logger.Info("initializing lease store")

	complete, err := b.synchronizer.CreateMissingLeases(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to create leases: %w", err)
	}
	if !complete {
		return false, nil
	}
	if err := b.store.MarkInitialized(ctx); err != nil {
		return false, fmt.Errorf("failed to mark lease store initialized: %w", err)
	}

	b.logger.Info("lease store initialized")

	return true, nil
}
