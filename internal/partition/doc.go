// Package partition runs the owned partitions of one host.
//
// For every lease the Controller acquires it starts a Supervisor, which runs a
// Renewer keeping the lease alive and a Processor streaming the partition's
// changes into the user's observer. The first of the two to fail decides the
// CloseReason handed to the observer. Splits are handed back to the Controller,
// which creates and acquires the child leases and deletes the parent.
package partition

import (
	"context"

	"github.com/arloliu/changefeed/types"
)

// LeaseManager is the lease API used by the partition runtime.
type LeaseManager interface {
	HostName() string
	Acquire(ctx context.Context, lease *types.Lease) (*types.Lease, error)
	Release(ctx context.Context, lease *types.Lease) error
	Renew(ctx context.Context, lease *types.Lease) (*types.Lease, error)
	Checkpoint(ctx context.Context, lease *types.Lease, continuation string) (*types.Lease, error)
	UpdateProperties(ctx context.Context, lease *types.Lease) (*types.Lease, error)
	Delete(ctx context.Context, lease *types.Lease) error
	ListOwnedLeases(ctx context.Context) ([]*types.Lease, error)
}

// Splitter creates the child leases of a split partition.
type Splitter interface {
	SplitPartition(ctx context.Context, parent *types.Lease) ([]*types.Lease, error)
}
