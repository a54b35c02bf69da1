package hooks

import (
	"context"

	"github.com/arloliu/changefeed/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.State, types.State) error = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, error) error                    = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnStateChanged: h.OnStateChanged,
		OnError:        h.OnError,
	}
}

// Fill returns hooks with every nil callback of h replaced by a no-op.
func Fill(h *types.Hooks) types.Hooks {
	filled := NewNop()
	if h == nil {
		return filled
	}
	if h.OnStateChanged != nil {
		filled.OnStateChanged = h.OnStateChanged
	}
	if h.OnError != nil {
		filled.OnError = h.OnError
	}

	return filled
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(ctx context.Context, from, to types.State) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(ctx context.Context, err error) error {
	return nil
}
