package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/types"
)

func TestNewNop(t *testing.T) {
	hooks := NewNop()

	require.NotNil(t, hooks.OnStateChanged)
	require.NotNil(t, hooks.OnError)
}

func TestNopHooks_OnStateChanged(t *testing.T) {
	hooks := NewNop()

	err := hooks.OnStateChanged(context.Background(), types.StateInit, types.StateRunning)
	require.NoError(t, err)
}

func TestNopHooks_OnError(t *testing.T) {
	hooks := NewNop()

	err := hooks.OnError(context.Background(), errors.New("boom"))
	require.NoError(t, err)
}

func TestFill(t *testing.T) {
	t.Run("nil hooks", func(t *testing.T) {
		filled := Fill(nil)
		require.NotNil(t, filled.OnStateChanged)
		require.NotNil(t, filled.OnError)
	})

	t.Run("keeps provided callbacks", func(t *testing.T) {
		called := false
		filled := Fill(&types.Hooks{OnError: func(context.Context, error) error {
			called = true
			return nil
		}})

		require.NotNil(t, filled.OnStateChanged)
		require.NoError(t, filled.OnError(context.Background(), errors.New("boom")))
		require.True(t, called)
	})
}
