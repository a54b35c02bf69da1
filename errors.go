package changefeed

import "github.com/arloliu/changefeed/types"

// Sentinel errors returned by the Processor and its components.
//
// They are the same values as in the types package, so errors.Is works with
// either name.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrFeedSourceRequired is returned when the change feed source is nil.
	ErrFeedSourceRequired = types.ErrFeedSourceRequired

	// ErrLeaseContainerRequired is returned when the lease container is nil.
	ErrLeaseContainerRequired = types.ErrLeaseContainerRequired

	// ErrObserverFactoryRequired is returned when the observer factory is nil.
	ErrObserverFactoryRequired = types.ErrObserverFactoryRequired

	// ErrAlreadyStarted is returned when Start is called on a running processor.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when Stop is called on a processor that isn't running.
	ErrNotStarted = types.ErrNotStarted

	// ErrEstimationNotSupported is returned by EstimateRemainingWork when the
	// source does not implement RemainingWorkEstimator.
	ErrEstimationNotSupported = types.ErrEstimationNotSupported

	// ErrLeaseLost is returned when another host took a lease.
	ErrLeaseLost = types.ErrLeaseLost

	// ErrPartitionNotFound is returned when a partition disappeared without a split.
	ErrPartitionNotFound = types.ErrPartitionNotFound

	// ErrPartitionSplit matches any *PartitionSplitError.
	ErrPartitionSplit = types.ErrPartitionSplit

	// ErrCheckpointNotAllowed is returned by ObserverContext.Checkpoint with
	// automatic checkpointing.
	ErrCheckpointNotAllowed = types.ErrCheckpointNotAllowed
)
