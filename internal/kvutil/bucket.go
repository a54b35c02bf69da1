// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/changefeed/internal/backoff"
)

// LeaseBucketConfig returns the bucket configuration used for lease documents.
//
// Leases must outlive any single host, so the bucket has no TTL, and only the
// latest revision of a key matters for conditional writes.
//
// Parameters:
//   - bucket: Bucket name
//   - replicas: Stream replicas (1 when <= 0)
//
// Returns:
//   - jetstream.KeyValueConfig: Configuration for EnsureKVBucketWithRetry
func LeaseBucketConfig(bucket string, replicas int) jetstream.KeyValueConfig {
	if replicas <= 0 {
		replicas = 1
	}

	return jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "change feed leases",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    replicas,
	}
}

// EnsureKVBucketWithRetry creates or opens a KV bucket with retry logic.
//
// This function handles race conditions when multiple hosts try to create
// the same bucket concurrently. It will retry with jittered backoff if
// the creation fails due to transient errors.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of retry attempts (default: 3)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Any error that occurred after all retries
//
// Example:
//
//	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, kvutil.LeaseBucketConfig("leases", 3), 3)
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	delays := backoff.NewJitter(10*time.Millisecond, time.Second, 2.0, 0)

	var lastErr error
	for attempt := range maxRetries {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, config.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			if err := backoff.Wait(ctx, delays.Next()); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}
