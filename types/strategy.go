package types

// LoadBalancingStrategy decides which leases this host should try to take.
//
// SelectLeasesToTake receives every lease in the container and returns the
// leases to pass to the partition controller. Implementations must be safe to
// call from the load balancer goroutine only; they need not be thread-safe.
type LoadBalancingStrategy interface {
	SelectLeasesToTake(allLeases []*Lease) []*Lease
}
