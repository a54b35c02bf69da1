package testing

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed/types"
)

// RunLeaseContainerSuite checks the conditional-write contract every
// types.LeaseContainer implementation must honour.
//
// newContainer is called once per subtest and must return an empty container.
//
// Example:
//
//	func TestContainer(t *testing.T) {
//	    cftest.RunLeaseContainerSuite(t, func(t *testing.T) types.LeaseContainer {
//	        return memory.NewContainer()
//	    })
//	}
func RunLeaseContainerSuite(t *testing.T, newContainer func(t *testing.T) types.LeaseContainer) {
	t.Helper()

	t.Run("read missing document", func(t *testing.T) {
		c := newContainer(t)

		_, err := c.ReadItem(t.Context(), "nope")
		require.ErrorIs(t, err, types.ErrDocumentNotFound)
	})

	t.Run("create and read", func(t *testing.T) {
		c := newContainer(t)
		ctx := t.Context()

		created, err := c.CreateItem(ctx, types.Document{ID: "p.lease.0", Body: []byte(`{"a":1}`)})
		require.NoError(t, err)
		require.Equal(t, "p.lease.0", created.ID)
		require.NotEmpty(t, created.ETag)

		read, err := c.ReadItem(ctx, "p.lease.0")
		require.NoError(t, err)
		require.Equal(t, created.ETag, read.ETag)
		require.JSONEq(t, `{"a":1}`, string(read.Body))
	})

	t.Run("create existing document conflicts", func(t *testing.T) {
		c := newContainer(t)
		ctx := t.Context()

		_, err := c.CreateItem(ctx, types.Document{ID: "p.info", Body: []byte(`{}`)})
		require.NoError(t, err)

		_, err = c.CreateItem(ctx, types.Document{ID: "p.info", Body: []byte(`{}`)})
		require.ErrorIs(t, err, types.ErrDocumentConflict)
	})

	t.Run("replace honours etag", func(t *testing.T) {
		c := newContainer(t)
		ctx := t.Context()

		created, err := c.CreateItem(ctx, types.Document{ID: "p.lease.1", Body: []byte(`{"v":1}`)})
		require.NoError(t, err)

		replaced, err := c.ReplaceItem(ctx, types.Document{ID: "p.lease.1", Body: []byte(`{"v":2}`)}, created.ETag)
		require.NoError(t, err)
		require.NotEqual(t, created.ETag, replaced.ETag)

		_, err = c.ReplaceItem(ctx, types.Document{ID: "p.lease.1", Body: []byte(`{"v":3}`)}, created.ETag)
		require.ErrorIs(t, err, types.ErrPreconditionFailed)

		read, err := c.ReadItem(ctx, "p.lease.1")
		require.NoError(t, err)
		require.JSONEq(t, `{"v":2}`, string(read.Body))
		require.Equal(t, replaced.ETag, read.ETag)

		unconditional, err := c.ReplaceItem(ctx, types.Document{ID: "p.lease.1", Body: []byte(`{"v":4}`)}, "")
		require.NoError(t, err)
		require.NotEqual(t, replaced.ETag, unconditional.ETag)
	})

	t.Run("replace missing document", func(t *testing.T) {
		c := newContainer(t)

		_, err := c.ReplaceItem(t.Context(), types.Document{ID: "p.lease.9", Body: []byte(`{}`)}, "")
		require.ErrorIs(t, err, types.ErrDocumentNotFound)
	})

	t.Run("delete honours etag", func(t *testing.T) {
		c := newContainer(t)
		ctx := t.Context()

		created, err := c.CreateItem(ctx, types.Document{ID: "p.lock", Body: []byte(`{}`)})
		require.NoError(t, err)
		replaced, err := c.ReplaceItem(ctx, types.Document{ID: "p.lock", Body: []byte(`{"x":1}`)}, created.ETag)
		require.NoError(t, err)

		require.ErrorIs(t, c.DeleteItem(ctx, "p.lock", created.ETag), types.ErrPreconditionFailed)
		require.NoError(t, c.DeleteItem(ctx, "p.lock", replaced.ETag))
		require.ErrorIs(t, c.DeleteItem(ctx, "p.lock", ""), types.ErrDocumentNotFound)

		_, err = c.ReadItem(ctx, "p.lock")
		require.ErrorIs(t, err, types.ErrDocumentNotFound)

		// a deleted id can be created again
		_, err = c.CreateItem(ctx, types.Document{ID: "p.lock", Body: []byte(`{}`)})
		require.NoError(t, err)
		require.NoError(t, c.DeleteItem(ctx, "p.lock", ""))
	})

	t.Run("query by id prefix", func(t *testing.T) {
		c := newContainer(t)
		ctx := t.Context()

		ids := []string{"a_b.lease.2", "a_b.lease.10", "a_b.lease.1", "a_b.info", "axb.lease.3", "a_b.leasex", "other.lease.1"}
		for _, id := range ids {
			_, err := c.CreateItem(ctx, types.Document{ID: id, Body: []byte(`{}`)})
			require.NoError(t, err)
		}

		docs, err := c.QueryItemsByIDPrefix(ctx, "a_b.lease.")
		require.NoError(t, err)

		got := make([]string, 0, len(docs))
		for _, d := range docs {
			got = append(got, d.ID)
			require.NotEmpty(t, d.ETag)
		}
		require.Equal(t, []string{"a_b.lease.1", "a_b.lease.10", "a_b.lease.2"}, got)

		docs, err = c.QueryItemsByIDPrefix(ctx, "missing.")
		require.NoError(t, err)
		require.Empty(t, docs)
	})

	t.Run("ids with reserved characters", func(t *testing.T) {
		c := newContainer(t)
		ctx := t.Context()

		id := "p%.lease.range/1:x y=z*"
		_, err := c.CreateItem(ctx, types.Document{ID: id, Body: []byte(`{}`)})
		require.NoError(t, err)

		read, err := c.ReadItem(ctx, id)
		require.NoError(t, err)
		require.Equal(t, id, read.ID)

		docs, err := c.QueryItemsByIDPrefix(ctx, "p%.lease.")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Equal(t, id, docs[0].ID)
	})

	t.Run("concurrent replace has one winner", func(t *testing.T) {
		c := newContainer(t)
		ctx := t.Context()

		created, err := c.CreateItem(ctx, types.Document{ID: "p.lease.c", Body: []byte(`{}`)})
		require.NoError(t, err)

		const writers = 8
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()

				_, err := c.ReplaceItem(ctx, types.Document{ID: "p.lease.c", Body: []byte(`{"w":1}`)}, created.ETag)
				if err == nil {
					wins.Add(1)
					return
				}
				require.ErrorIs(t, err, types.ErrPreconditionFailed)
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), wins.Load())
	})
}
