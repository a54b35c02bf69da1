package types

import (
	"maps"
	"time"
)

// Lease is the ownership and progress record for a single partition.
//
// A lease is shared by all hosts through the LeaseContainer. The owner field
// is only ever changed with a conditional write guarded by ConcurrencyToken,
// so at most one host observes itself as the owner at any instant.
type Lease struct {
	// ID is the container document id, "<prefix>.lease.<leaseToken>".
	ID string `json:"id"`

	// LeaseToken identifies the partition. It is stable across renewals and
	// only changes when a partition splits into children.
	LeaseToken string `json:"leaseToken"`

	// Owner is the host name of the current owner. Empty means unowned.
	Owner string `json:"owner,omitempty"`

	// ContinuationToken is the resume position in the partition's change
	// stream. Empty means the processor applies its start policy.
	ContinuationToken string `json:"continuationToken,omitempty"`

	// Timestamp is the time of the last write and drives expiry.
	Timestamp time.Time `json:"timestamp"`

	// Properties carries caller-owned metadata such as custom checkpoint data.
	Properties map[string]string `json:"properties,omitempty"`

	// ConcurrencyToken is the container etag of the document this copy was
	// read from. It is not part of the persisted body.
	ConcurrencyToken string `json:"-"`
}

// IsExpired reports whether the lease can be taken by any host.
//
// A lease is expired when it has no owner or when it has not been written for
// longer than the expiration interval.
func (l *Lease) IsExpired(now time.Time, expiration time.Duration) bool {
	if l.Owner == "" {
		return true
	}

	return now.Sub(l.Timestamp) > expiration
}

// IsOwnedBy reports whether the lease is currently held by the given host.
func (l *Lease) IsOwnedBy(owner string) bool {
	return l.Owner != "" && l.Owner == owner
}

// Clone returns a deep copy of the lease.
func (l *Lease) Clone() *Lease {
	if l == nil {
		return nil
	}

	c := *l
	if l.Properties != nil {
		c.Properties = maps.Clone(l.Properties)
	}

	return &c
}

// RemainingPartitionWork is an estimate of the unprocessed changes of a
// partition. It is computed on demand and never persisted.
type RemainingPartitionWork struct {
	LeaseToken    string
	RemainingWork int64
}

// LeaseState is a point-in-time view of a lease used for status reporting.
type LeaseState struct {
	LeaseToken        string
	Owner             string
	ContinuationToken string
	Timestamp         time.Time
	Expired           bool
}
