package natsutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/types"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", nats.ErrTimeout, true},
		{"wrapped no servers", fmt.Errorf("read: %w", nats.ErrNoServers), true},
		{"connection closed", nats.ErrConnectionClosed, true},
		{"no stream response", jetstream.ErrNoStreamResponse, true},
		{"dial error", errors.New("dial tcp 127.0.0.1:4222: connect: connection refused"), true},
		{"key not found", jetstream.ErrKeyNotFound, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestIsWrongRevision(t *testing.T) {
	require.True(t, IsWrongRevision(jetstream.ErrKeyExists))
	require.True(t, IsWrongRevision(fmt.Errorf("update: %w", &jetstream.APIError{
		Code:      http.StatusBadRequest,
		ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence,
	})))
	require.False(t, IsWrongRevision(jetstream.ErrKeyNotFound))
	require.False(t, IsWrongRevision(nil))
}

func TestToStoreError(t *testing.T) {
	require.NoError(t, ToStoreError(nil))
	require.ErrorIs(t, ToStoreError(context.Canceled), context.Canceled)

	var se *types.StoreError
	err := ToStoreError(nats.ErrTimeout)
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	require.True(t, se.IsTransient())
	require.ErrorIs(t, err, nats.ErrTimeout)

	err = ToStoreError(&jetstream.APIError{Code: http.StatusServiceUnavailable, ErrorCode: 10008})
	require.ErrorAs(t, err, &se)
	require.True(t, se.IsTransient())

	plain := errors.New("bad key")
	require.Equal(t, plain, ToStoreError(plain))
}
