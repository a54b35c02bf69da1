// Package natsutil classifies NATS client errors for the lease containers.
package natsutil

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/changefeed/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
//
// Kept in internal/natsutil to avoid importing NATS dependencies in types/ package.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsWrongRevision reports whether a conditional KV write failed because the
// key changed since the expected revision.
func IsWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}

// ToStoreError turns a NATS failure into a *types.StoreError so callers retry
// it like any other transient store failure.
//
// Context errors and nil are returned unchanged.
func ToStoreError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if IsConnectivityError(err) {
		return types.NewStoreError(http.StatusServiceUnavailable, 0, err)
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= http.StatusInternalServerError {
		return types.NewStoreError(apiErr.Code, int(apiErr.ErrorCode), err)
	}

	return err
}
