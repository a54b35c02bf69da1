package types

import (
	"context"
	"encoding/json"
)

// CloseReason tells an observer why its partition was closed.
type CloseReason int

const (
	// CloseReasonUnknown is used when the failure could not be classified.
	CloseReasonUnknown CloseReason = iota

	// CloseReasonShutdown means the host is shutting down.
	CloseReasonShutdown

	// CloseReasonResourceGone means the partition disappeared without a split.
	CloseReasonResourceGone

	// CloseReasonLeaseLost means another host took the lease.
	CloseReasonLeaseLost

	// CloseReasonObserverError means the observer failed while processing.
	CloseReasonObserverError

	// CloseReasonLeaseGone means the partition was split and its lease is
	// being replaced by child leases.
	CloseReasonLeaseGone
)

// String returns the string representation of the close reason.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonShutdown:
		return "shutdown"
	case CloseReasonResourceGone:
		return "resource_gone"
	case CloseReasonLeaseLost:
		return "lease_lost"
	case CloseReasonObserverError:
		return "observer_error"
	case CloseReasonLeaseGone:
		return "lease_gone"
	default:
		return "unknown"
	}
}

// ObserverContext is handed to observer callbacks for one partition.
type ObserverContext interface {
	// LeaseToken returns the partition being processed.
	LeaseToken() string

	// Page returns the page currently being processed. It is empty during
	// Open and Close.
	Page() FeedPage

	// Checkpoint records the continuation of the current page in the lease.
	//
	// It fails with ErrCheckpointNotAllowed when automatic checkpointing is
	// configured.
	Checkpoint(ctx context.Context) (*Lease, error)
}

// ChangeFeedObserver receives the changes of one partition.
//
// One observer instance is created per owned partition. Open is called once
// before the first batch and Close is called exactly once afterwards, with the
// reason the partition was closed.
type ChangeFeedObserver interface {
	Open(ctx context.Context, oc ObserverContext) error
	ProcessChanges(ctx context.Context, oc ObserverContext, items []json.RawMessage) error
	Close(ctx context.Context, oc ObserverContext, reason CloseReason) error
}

// ObserverFactory creates an observer for each newly owned partition.
type ObserverFactory interface {
	CreateObserver() ChangeFeedObserver
}

// ObserverFactoryFunc adapts a function to ObserverFactory.
type ObserverFactoryFunc func() ChangeFeedObserver

// CreateObserver calls f.
func (f ObserverFactoryFunc) CreateObserver() ChangeFeedObserver {
	return f()
}
