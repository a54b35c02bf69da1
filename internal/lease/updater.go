package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// DefaultMaxUpdateAttempts bounds the read-modify-write cycles of one update.
const DefaultMaxUpdateAttempts = 5

// Transform computes the next version of a lease from the current one.
//
// The lease passed in is a private copy. Returning (nil, nil) means there is
// nothing to write and the current lease is returned unchanged. Returning an
// error aborts the update.
type Transform func(current *types.Lease) (*types.Lease, error)

// Updater applies transforms to leases with optimistic concurrency.
//
// Each attempt writes the transformed lease with an if-match on the
// concurrency token of the lease it was computed from. A precondition failure
// re-reads the server copy and retries the transform against it. A missing
// document, or a conflict reported by the container, means the lease is gone
// and surfaces as types.ErrLeaseLost. When all attempts are used up, the last
// known server lease is returned and the caller must re-check ownership.
type Updater struct {
	container   types.LeaseContainer
	maxAttempts int
	now         func() time.Time
	logger      types.Logger
	metrics     types.MetricsCollector
}

// NewUpdater creates an updater.
//
// Parameters:
//   - container: Lease container to write to
//   - maxAttempts: Attempt bound (DefaultMaxUpdateAttempts when <= 0)
//   - now: Clock used for lease timestamps (time.Now when nil)
//   - logger: Logger (no-op when nil)
//   - collector: Metrics collector (no-op when nil)
func NewUpdater(
	container types.LeaseContainer,
	maxAttempts int,
	now func() time.Time,
	logger types.Logger,
	collector types.MetricsCollector,
) *Updater {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxUpdateAttempts
	}
	if now == nil {
		now = time.Now
	}

	return &Updater{
		container:   container,
		maxAttempts: maxAttempts,
		now:         now,
		logger:      logging.OrNop(logger),
		metrics:     metrics.OrNop(collector),
	}
}

// Update applies transform to cached, retrying on optimistic-concurrency conflicts.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cached: The caller's copy of the lease; its ConcurrencyToken guards the first write
//   - op: Operation name used for logs and metrics
//   - transform: Function producing the lease to write
//
// Returns:
//   - *types.Lease: The written lease, or the last known server lease when attempts ran out
//   - error: types.ErrLeaseLost when the lease vanished, the transform's error, or a store error
func (u *Updater) Update(ctx context.Context, cached *types.Lease, op string, transform Transform) (*types.Lease, error) {
	l, _, err := u.apply(ctx, cached, op, transform)
	return l, err
}

// apply is Update that also reports whether the returned lease reflects the
// transform. It is false only when the attempts ran out.
func (u *Updater) apply(ctx context.Context, cached *types.Lease, op string, transform Transform) (*types.Lease, bool, error) {
	current := cached.Clone()

	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		next, err := transform(current.Clone())
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			return current, true, nil
		}

		next.Timestamp = u.now().UTC()
		updated, err := u.tryReplace(ctx, next, current.ConcurrencyToken)
		if err == nil {
			return updated, true, nil
		}
		if !errors.Is(err, types.ErrLeaseConflict) {
			return nil, false, err
		}

		u.metrics.RecordLeaseConflict(op)

		server, err := u.read(ctx, cached.ID)
		if err != nil {
			return nil, false, err
		}

		u.logger.Warn("lease update conflict, retrying against server copy",
			"op", op,
			"lease", cached.LeaseToken,
			"attempt", attempt,
			"expectedOwner", next.Owner,
			"currentOwner", server.Owner,
		)
		current = server
	}

	u.logger.Warn("lease update attempts exhausted, returning server copy",
		"op", op,
		"lease", cached.LeaseToken,
		"attempts", u.maxAttempts,
		"currentOwner", current.Owner,
	)

	return current, false, nil
}

func (u *Updater) tryReplace(ctx context.Context, next *types.Lease, ifMatch string) (*types.Lease, error) {
	doc, err := encode(next)
	if err != nil {
		return nil, err
	}

	written, err := u.container.ReplaceItem(ctx, doc, ifMatch)
	switch {
	case err == nil:
		return decode(written)
	case errors.Is(err, types.ErrPreconditionFailed):
		return nil, fmt.Errorf("%w: %s", types.ErrLeaseConflict, next.LeaseToken)
	case errors.Is(err, types.ErrDocumentNotFound), errors.Is(err, types.ErrDocumentConflict):
		return nil, fmt.Errorf("%w: lease %s no longer exists", types.ErrLeaseLost, next.LeaseToken)
	default:
		return nil, fmt.Errorf("failed to replace lease %s: %w", next.LeaseToken, err)
	}
}

func (u *Updater) read(ctx context.Context, id string) (*types.Lease, error) {
	doc, err := u.container.ReadItem(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%w: lease %s no longer exists", types.ErrLeaseLost, id)
		}

		return nil, fmt.Errorf("failed to read lease %s: %w", id, err)
	}

	return decode(doc)
}
