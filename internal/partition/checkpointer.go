package partition

import (
	"context"
	"sync"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// Checkpointer records processed continuations into one lease.
type Checkpointer struct {
	leases  LeaseManager
	logger  types.Logger
	metrics types.MetricsCollector

	mu    sync.Mutex
	lease *types.Lease
}

// NewCheckpointer creates a checkpointer for lease.
func NewCheckpointer(leases LeaseManager, lease *types.Lease, logger types.Logger, collector types.MetricsCollector) *Checkpointer {
	return &Checkpointer{
		leases:  leases,
		logger:  logging.OrNop(logger),
		metrics: metrics.OrNop(collector),
		lease:   lease.Clone(),
	}
}

// Checkpoint writes continuation into the lease.
func (c *Checkpointer) Checkpoint(ctx context.Context, continuation string) (*types.Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated, err := c.leases.Checkpoint(ctx, c.lease, continuation)
	c.metrics.RecordCheckpoint(err == nil)
	if err != nil {
		c.logger.Warn("checkpoint failed", "continuation", continuation, "error", err)
		return nil, err
	}

	c.lease = updated
	c.logger.Debug("checkpoint written", "continuation", continuation)

	return updated.Clone(), nil
}

// Lease returns the most recently checkpointed copy of the lease.
func (c *Checkpointer) Lease() *types.Lease {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lease.Clone()
}
