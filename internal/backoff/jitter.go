// Package backoff provides the retry delays and cancellation-aware waits used
// by the partition loops.
package backoff

import (
	"context"
	rand "math/rand/v2"
	"time"
)

// Jitter produces decorrelated jitter delays ("Full Jitter" variant) with a cap.
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
//
// Given the previous delay, the next delay is
//
//	next = min(cap, base + rand(prev*multiplier - base))
//
// A Jitter is not safe for concurrent use; each loop owns its own instance.
type Jitter struct {
	base time.Duration
	mult float64
	cap  time.Duration
	rng  *rand.Rand
	prev time.Duration
}

// NewJitter creates a jitter backoff.
//
// Parameters:
//   - base: First delay and lower bound of every delay (50ms when <= 0)
//   - capDur: Upper bound of every delay (0 means uncapped)
//   - mult: Growth multiplier (values < 1 are treated as 1)
//   - seed: Non-zero seed for a deterministic sequence; 0 uses the global PRNG
//
// Returns:
//   - *Jitter: Backoff positioned before its first delay
func NewJitter(base, capDur time.Duration, mult float64, seed int64) *Jitter {
	return &Jitter{base: base, cap: capDur, mult: mult, rng: newRNG(seed)}
}

// Next returns the next delay and advances the sequence.
func (j *Jitter) Next() time.Duration {
	j.prev = jitterBackoff(j.prev, j.base, j.mult, j.cap, j.rng)
	return j.prev
}

// Reset restarts the sequence from the base delay.
func (j *Jitter) Reset() {
	j.prev = 0
}

func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}

	if prev <= 0 {
		return base
	}

	maxDuration := time.Duration(float64(prev)*mult) - base
	if maxDuration <= 0 {
		maxDuration = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(maxDuration))
	} else {
		jitter = rand.Int64N(int64(maxDuration)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

//nolint:gosec
func newRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}

// Wait blocks for d or until ctx is done, whichever comes first.
//
// It returns ctx.Err() when the context ended the wait and nil otherwise.
// A non-positive d only checks the context.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
