// Package lease implements the lease primitives on top of a types.LeaseContainer.
//
// Manager performs acquire, renew, release, checkpoint and property updates
// as read-modify-conditional-write cycles through Updater, which absorbs
// benign optimistic-concurrency races with a bounded number of retries.
// Store manages the bootstrap completion marker and the initialization lock.
//
// Document ids:
//
//	<prefix>.lease.<leaseToken>   one per partition
//	<prefix>.info                 bootstrap completion marker
//	<prefix>.lock                 bootstrap mutual-exclusion lock
package lease
