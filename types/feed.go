package types

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrPageTooLarge is returned by a ChangeFeedSource when the requested page
// cannot be served and the caller should ask for fewer items.
var ErrPageTooLarge = errors.New("requested page is too large")

// FeedRequest asks a ChangeFeedSource for the next page of one partition.
type FeedRequest struct {
	// RangeID is the partition to read.
	RangeID string

	// Continuation is the resume position. When empty the start policy
	// (StartFromBeginning, StartTime, or "now") applies.
	Continuation string

	// MaxItemCount bounds the number of items in the page.
	MaxItemCount int

	StartFromBeginning bool
	StartTime          time.Time
}

// FeedPage is one page of changes.
type FeedPage struct {
	Items []json.RawMessage

	// Continuation is the resume position after this page. A page with no
	// items still carries the continuation to resume from.
	Continuation string
}

// PartitionRange describes a physical partition of the monitored resource.
type PartitionRange struct {
	ID string

	// Parents lists the ranges this range was split from.
	Parents []string
}

// ChangeFeedSource is the monitored resource.
type ChangeFeedSource interface {
	// ReadChanges returns the next page of changes for a partition.
	//
	// Failures are reported as *StoreError: 404 when the partition is gone
	// without a split, 410 with a split sub-status when it was split, 429 and
	// 5xx for transient failures. ErrPageTooLarge asks for a smaller page.
	ReadChanges(ctx context.Context, req FeedRequest) (FeedPage, error)

	// ListRanges enumerates the current physical partitions.
	ListRanges(ctx context.Context) ([]PartitionRange, error)
}

// RemainingWorkEstimator is an optional ChangeFeedSource capability used to
// estimate processing lag.
type RemainingWorkEstimator interface {
	// EstimateRemaining returns the number of changes after continuation.
	EstimateRemaining(ctx context.Context, rangeID string, continuation string) (int64, error)
}
