package partition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arloliu/changefeed/internal/backoff"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

// Renewer periodically renews one lease until it is lost or canceled.
type Renewer struct {
	leases   LeaseManager
	interval time.Duration
	logger   types.Logger

	mu    sync.RWMutex
	lease *types.Lease
}

// NewRenewer creates a renewer for lease.
func NewRenewer(leases LeaseManager, lease *types.Lease, interval time.Duration, logger types.Logger) *Renewer {
	return &Renewer{
		leases:   leases,
		interval: interval,
		logger:   logging.OrNop(logger),
		lease:    lease.Clone(),
	}
}

// Lease returns the most recently renewed copy of the lease.
func (r *Renewer) Lease() *types.Lease {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lease.Clone()
}

// Run renews the lease every interval, starting after half an interval.
//
// Renewal failures other than a lost lease are logged and retried on the next
// tick; the lease stays valid until its expiration interval elapses.
//
// Returns:
//   - error: types.ErrLeaseLost when another host took the lease, or ctx.Err() on cancellation
func (r *Renewer) Run(ctx context.Context) error {
	delay := r.interval / 2

	for {
		if err := backoff.Wait(ctx, delay); err != nil {
			return err
		}
		delay = r.interval

		renewed, err := r.leases.Renew(ctx, r.Lease())
		switch {
		case err == nil:
			r.mu.Lock()
			r.lease = renewed
			r.mu.Unlock()
			r.logger.Debug("lease renewed")
		case errors.Is(err, types.ErrLeaseLost):
			r.logger.Info("lease lost during renewal", "error", err)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			r.logger.Warn("lease renewal failed, will retry", "error", err)
		}
	}
}
