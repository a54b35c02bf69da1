// Package bootstrap seeds the lease collection from the monitored resource's
// partitions and derives child leases when a partition splits.
package bootstrap

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

// LeaseCreator is the subset of the lease manager used by the synchronizer.
type LeaseCreator interface {
	ListAllLeases(ctx context.Context) ([]*types.Lease, error)
	CreateLeaseIfNotExist(ctx context.Context, leaseToken string, continuation string) (*types.Lease, error)
}

// DefaultDegreeOfParallelism bounds concurrent lease creation.
const DefaultDegreeOfParallelism = 25

// Synchronizer keeps the lease collection in step with the resource's partitions.
type Synchronizer struct {
	source      types.ChangeFeedSource
	leases      LeaseCreator
	parallelism int
	logger      types.Logger
}

// NewSynchronizer creates a synchronizer.
//
// Parameters:
//   - source: Monitored resource used to enumerate partitions
//   - leases: Lease manager used to list and create leases
//   - parallelism: Maximum concurrent lease creations (DefaultDegreeOfParallelism when <= 0)
//   - logger: Logger (no-op when nil)
func NewSynchronizer(source types.ChangeFeedSource, leases LeaseCreator, parallelism int, logger types.Logger) *Synchronizer {
	if parallelism <= 0 {
		parallelism = DefaultDegreeOfParallelism
	}

	return &Synchronizer{
		source:      source,
		leases:      leases,
		parallelism: parallelism,
		logger:      logging.OrNop(logger),
	}
}

// CreateMissingLeases creates an unowned lease for every partition that has none.
//
// New leases carry no continuation so processing starts according to the
// start policy. Failing to enumerate partitions is logged and swallowed: the
// call reports complete=false without an error and the bootstrapper tries
// again later. Failing to create a lease is returned.
func (s *Synchronizer) CreateMissingLeases(ctx context.Context) (complete bool, err error) {
	ranges, err := s.source.ListRanges(ctx)
	if err != nil {
		s.logger.Error("failed to enumerate partitions, skipping lease creation", "error", err)
		return false, nil
	}

	existing, err := s.leases.ListAllLeases(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list existing leases: %w", err)
	}

	known := make(map[string]struct{}, len(existing))
	for _, l := range existing {
		known[l.LeaseToken] = struct{}{}
	}

	missing := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if _, ok := known[r.ID]; !ok {
			missing = append(missing, r.ID)
		}
	}

	s.logger.Info("synchronizing leases", "partitions", len(ranges), "existing", len(existing), "missing", len(missing))

	if _, err := s.createLeases(ctx, missing, ""); err != nil {
		return false, err
	}

	return true, nil
}

// SplitPartition creates leases for the children of a split partition.
//
// Each child lease starts from the parent's continuation token. The parent is
// not modified or deleted here.
//
// Returns:
//   - []*types.Lease: The child leases created by this call
//   - error: types.ErrNoChildPartitions when no child was found, or a store error
func (s *Synchronizer) SplitPartition(ctx context.Context, parent *types.Lease) ([]*types.Lease, error) {
	ranges, err := s.source.ListRanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate partitions for split of %s: %w", parent.LeaseToken, err)
	}

	children := make([]string, 0, 2)
	for _, r := range ranges {
		if slices.Contains(r.Parents, parent.LeaseToken) {
			children = append(children, r.ID)
		}
	}

	if len(children) == 0 {
		s.logger.Error("split partition has no children", "lease", parent.LeaseToken)
		return nil, fmt.Errorf("%w: %s", types.ErrNoChildPartitions, parent.LeaseToken)
	}

	s.logger.Info("partition split", "lease", parent.LeaseToken, "children", children,
		"continuation", parent.ContinuationToken)

	return s.createLeases(ctx, children, parent.ContinuationToken)
}

func (s *Synchronizer) createLeases(ctx context.Context, tokens []string, continuation string) ([]*types.Lease, error) {
	var (
		mu      sync.Mutex
		created = make([]*types.Lease, 0, len(tokens))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for _, token := range tokens {
		g.Go(func() error {
			l, err := s.leases.CreateLeaseIfNotExist(gctx, token, continuation)
			if err != nil {
				return err
			}
			if l != nil {
				mu.Lock()
				created = append(created, l)
				mu.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(created, func(a, b *types.Lease) int {
		return strings.Compare(a.LeaseToken, b.LeaseToken)
	})

	return created, nil
}
