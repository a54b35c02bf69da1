// Package strategy provides the built-in lease load-balancing strategy.
//
// A strategy looks at every lease in the container and returns the leases the
// local host should try to acquire. The balancer calls it on every
// acquisition tick, so it must be cheap and free of side effects.
//
// EqualPartitions (the default) works like this:
//
//   - Expired leases are always candidates
//   - The target per host is ceil(leases / active hosts), clamped to the
//     configured minimum and maximum
//   - When the host is below target and nothing is expired, it steals one
//     lease from the most loaded host that is above target
//
// Custom strategies can be implemented by satisfying the types.LoadBalancingStrategy interface.
package strategy
