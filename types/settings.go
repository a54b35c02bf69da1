package types

import "time"

// CheckpointFrequency controls automatic checkpointing.
//
// With Explicit set, the library never checkpoints by itself and observers call
// ObserverContext.Checkpoint. Otherwise a checkpoint is written after every
// batch unless DocumentCount or TimeInterval is set, in which case it is
// written when either threshold is reached.
type CheckpointFrequency struct {
	// Explicit disables automatic checkpointing.
	Explicit bool `yaml:"explicit"`

	// DocumentCount is the number of processed batches between checkpoints.
	DocumentCount int `yaml:"documentCount"`

	// TimeInterval is the maximum time between checkpoints.
	TimeInterval time.Duration `yaml:"timeInterval"`
}

// ProcessorSettings is the immutable per-partition configuration of a
// partition processor.
type ProcessorSettings struct {
	LeaseToken         string
	StartContinuation  string
	MaxItemCount       int
	FeedPollDelay      time.Duration
	StartFromBeginning bool
	StartTime          time.Time
}
