package strategy

import (
	"cmp"
	"slices"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/changefeed/types"
)

// EqualPartitions spreads leases evenly across the hosts that currently own
// at least one live lease.
type EqualPartitions struct {
	hostName   string
	expiration time.Duration
	minCount   int
	maxCount   int
	now        func() time.Time
}

var _ types.LoadBalancingStrategy = (*EqualPartitions)(nil)

// EqualPartitionsOption configures an EqualPartitions strategy.
type EqualPartitionsOption func(*EqualPartitions)

// NewEqualPartitions creates the equal-partitions strategy for hostName.
//
// A lease is expired when it has no owner or when it has not been written for
// longer than expiration.
//
// Parameters:
//   - hostName: Host name this strategy selects leases for
//   - expiration: Lease expiration interval
//   - opts: Optional configuration (WithMinPartitionCount, WithMaxPartitionCount, WithClock)
//
// Returns:
//   - *EqualPartitions: Initialized strategy
//
// Example:
//
//	s := strategy.NewEqualPartitions("host-a", time.Minute, strategy.WithMaxPartitionCount(8))
//	proc, err := changefeed.NewProcessor(&cfg, src, container, factory, changefeed.WithStrategy(s))
func NewEqualPartitions(hostName string, expiration time.Duration, opts ...EqualPartitionsOption) *EqualPartitions {
	s := &EqualPartitions{
		hostName:   hostName,
		expiration: expiration,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// WithMinPartitionCount sets the lower bound of the per-host target (0 = unbounded).
func WithMinPartitionCount(n int) EqualPartitionsOption {
	return func(s *EqualPartitions) {
		s.minCount = n
	}
}

// WithMaxPartitionCount sets the upper bound of the per-host target (0 = unbounded).
func WithMaxPartitionCount(n int) EqualPartitionsOption {
	return func(s *EqualPartitions) {
		s.maxCount = n
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) EqualPartitionsOption {
	return func(s *EqualPartitions) {
		s.now = now
	}
}

// SelectLeasesToTake returns the leases this host should try to acquire.
//
// The algorithm:
//  1. Count live leases per owner and collect expired or unowned leases
//  2. target = ceil(leases / hosts), clamped to [min, max]
//  3. Below target: take up to the deficit from the expired leases
//  4. No expired leases: steal one lease from the busiest host when it holds more than target
//
// Expired leases are ordered by a per-host hash so competing hosts start on
// different leases.
func (s *EqualPartitions) SelectLeasesToTake(allLeases []*types.Lease) []*types.Lease {
	if len(allLeases) == 0 {
		return nil
	}

	now := s.now()
	counts := map[string]int{s.hostName: 0}
	owned := make(map[string][]*types.Lease)
	expired := make([]*types.Lease, 0)

	for _, l := range allLeases {
		if l == nil {
			continue
		}
		if l.IsExpired(now, s.expiration) {
			expired = append(expired, l)
			continue
		}
		counts[l.Owner]++
		owned[l.Owner] = append(owned[l.Owner], l)
	}

	target := s.target(len(allLeases), len(counts))
	needed := target - counts[s.hostName]
	if needed <= 0 {
		return nil
	}

	if len(expired) > 0 {
		s.sortForHost(expired)
		return expired[:min(needed, len(expired))]
	}

	if stolen := s.leaseToSteal(counts, owned, target); stolen != nil {
		return []*types.Lease{stolen}
	}

	return nil
}

func (s *EqualPartitions) target(leaseCount, hostCount int) int {
	target := (leaseCount + hostCount - 1) / hostCount
	if s.minCount > 0 && target < s.minCount {
		target = s.minCount
	}
	if s.maxCount > 0 && target > s.maxCount {
		target = s.maxCount
	}

	return target
}

func (s *EqualPartitions) leaseToSteal(counts map[string]int, owned map[string][]*types.Lease, target int) *types.Lease {
	busiest, most := "", 0
	for host, n := range counts {
		if host == s.hostName {
			continue
		}
		if n > most || (n == most && host < busiest) {
			busiest, most = host, n
		}
	}

	if most <= target {
		return nil
	}

	candidates := slices.Clone(owned[busiest])
	s.sortForHost(candidates)

	return candidates[0]
}

func (s *EqualPartitions) sortForHost(leases []*types.Lease) {
	slices.SortFunc(leases, func(a, b *types.Lease) int {
		return cmp.Or(
			cmp.Compare(s.rank(a), s.rank(b)),
			cmp.Compare(a.LeaseToken, b.LeaseToken),
		)
	})
}

func (s *EqualPartitions) rank(l *types.Lease) uint64 {
	return xxh3.HashString(s.hostName + "/" + l.LeaseToken)
}
