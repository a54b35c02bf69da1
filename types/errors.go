package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the changefeed library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// Components wrap them with context using fmt.Errorf("%w: ...", err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Processor, LeaseManager, Partition, etc.)

// Processor errors - Public API errors returned by the root Processor.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrFeedSourceRequired is returned when the change feed source is nil.
	ErrFeedSourceRequired = errors.New("change feed source is required")

	// ErrLeaseContainerRequired is returned when the lease container is nil.
	ErrLeaseContainerRequired = errors.New("lease container is required")

	// ErrObserverFactoryRequired is returned when the observer factory is nil.
	ErrObserverFactoryRequired = errors.New("observer factory is required")

	// ErrAlreadyStarted is returned when Start is called on a running component.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted is returned when Stop is called on a component that is not running.
	ErrNotStarted = errors.New("not started")

	// ErrEstimationNotSupported is returned when the feed source cannot estimate remaining work.
	ErrEstimationNotSupported = errors.New("change feed source does not support remaining work estimation")
)

// LeaseManager errors.
var (
	// ErrLeaseLost is returned when another owner took the lease or the lease
	// was deleted. The caller must drop the partition.
	ErrLeaseLost = errors.New("lease lost")

	// ErrLeaseConflict is returned for an optimistic-concurrency collision.
	ErrLeaseConflict = errors.New("lease conflict")

	// ErrEmptyContinuation is returned when checkpointing without a continuation token.
	ErrEmptyContinuation = errors.New("continuation token must not be empty")

	// ErrInitLockHeld is returned when the bootstrap lock is held by another host.
	ErrInitLockHeld = errors.New("initialization lock is held by another host")
)

// Partition errors - Terminal outcomes of a partition's processing.
var (
	// ErrPartitionNotFound is returned when the partition disappeared without a split.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrPartitionSplit matches any *PartitionSplitError.
	ErrPartitionSplit = errors.New("partition split")

	// ErrNoChildPartitions is returned when a split partition has no children.
	ErrNoChildPartitions = errors.New("split partition has no child partitions")

	// ErrCheckpointNotAllowed is returned by ObserverContext.Checkpoint when
	// automatic checkpointing is configured.
	ErrCheckpointNotAllowed = errors.New("explicit checkpoint is not allowed with automatic checkpointing")
)

// PartitionSplitError reports that a partition was replaced by children.
//
// It carries the last continuation read from the parent so the children can
// resume where the parent stopped.
type PartitionSplitError struct {
	LeaseToken       string
	LastContinuation string
	Err              error
}

func (e *PartitionSplitError) Error() string {
	return fmt.Sprintf("partition %s split: %v", e.LeaseToken, e.Err)
}

func (e *PartitionSplitError) Unwrap() error {
	return e.Err
}

// Is matches ErrPartitionSplit.
func (e *PartitionSplitError) Is(target error) bool {
	return target == ErrPartitionSplit
}

// ObserverError wraps an error returned, or a panic raised, by an observer.
type ObserverError struct {
	Err error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer error: %v", e.Err)
}

func (e *ObserverError) Unwrap() error {
	return e.Err
}
