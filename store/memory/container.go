// Package memory provides an in-process types.LeaseContainer.
//
// All hosts that share one Container instance coordinate through it, which
// makes it suitable for tests and for running several processors inside one
// process.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/changefeed/types"
)

// Container is an in-memory lease container with etag-based conditional writes.
//
// Every conditional write runs inside xsync.Map.Compute, so a check and the
// write that depends on it are atomic per document.
type Container struct {
	docs *xsync.Map[string, types.Document]
	seq  atomic.Uint64

	faultMu sync.Mutex
	faults  []fault
}

type fault struct {
	op  string
	id  string
	err error
}

var _ types.LeaseContainer = (*Container)(nil)

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{docs: xsync.NewMap[string, types.Document]()}
}

// InjectFault makes the next operation op ("read", "create", "replace",
// "delete", "query") on the document id fail with err. An empty id matches any
// document. Faults are consumed in the order they were injected.
func (c *Container) InjectFault(op string, id string, err error) {
	c.faultMu.Lock()
	defer c.faultMu.Unlock()

	c.faults = append(c.faults, fault{op: op, id: id, err: err})
}

func (c *Container) takeFault(op string, id string) error {
	c.faultMu.Lock()
	defer c.faultMu.Unlock()

	for i, f := range c.faults {
		if f.op == op && (f.id == "" || f.id == id) {
			c.faults = slices.Delete(c.faults, i, i+1)
			return f.err
		}
	}

	return nil
}

func (c *Container) nextETag() string {
	return strconv.FormatUint(c.seq.Add(1), 10)
}

// ReadItem returns the document with the given id.
func (c *Container) ReadItem(ctx context.Context, id string) (types.Document, error) {
	if err := ctx.Err(); err != nil {
		return types.Document{}, err
	}
	if err := c.takeFault("read", id); err != nil {
		return types.Document{}, err
	}

	doc, ok := c.docs.Load(id)
	if !ok {
		return types.Document{}, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}

	return cloneDoc(doc), nil
}

// CreateItem stores a new document.
func (c *Container) CreateItem(ctx context.Context, doc types.Document) (types.Document, error) {
	if err := ctx.Err(); err != nil {
		return types.Document{}, err
	}
	if err := c.takeFault("create", doc.ID); err != nil {
		return types.Document{}, err
	}

	exists := false
	stored, _ := c.docs.Compute(doc.ID, func(old types.Document, loaded bool) (types.Document, xsync.ComputeOp) {
		if loaded {
			exists = true
			return old, xsync.CancelOp
		}
		next := cloneDoc(doc)
		next.ETag = c.nextETag()

		return next, xsync.UpdateOp
	})
	if exists {
		return types.Document{}, fmt.Errorf("%w: %s", types.ErrDocumentConflict, doc.ID)
	}

	return cloneDoc(stored), nil
}

// ReplaceItem overwrites a document whose etag equals ifMatch.
func (c *Container) ReplaceItem(ctx context.Context, doc types.Document, ifMatch string) (types.Document, error) {
	if err := ctx.Err(); err != nil {
		return types.Document{}, err
	}
	if err := c.takeFault("replace", doc.ID); err != nil {
		return types.Document{}, err
	}

	var err error
	stored, _ := c.docs.Compute(doc.ID, func(current types.Document, loaded bool) (types.Document, xsync.ComputeOp) {
		switch {
		case !loaded:
			err = fmt.Errorf("%w: %s", types.ErrDocumentNotFound, doc.ID)
			return current, xsync.CancelOp
		case ifMatch != "" && current.ETag != ifMatch:
			err = fmt.Errorf("%w: %s etag %s != %s", types.ErrPreconditionFailed, doc.ID, ifMatch, current.ETag)
			return current, xsync.CancelOp
		}
		next := cloneDoc(doc)
		next.ETag = c.nextETag()

		return next, xsync.UpdateOp
	})
	if err != nil {
		return types.Document{}, err
	}

	return cloneDoc(stored), nil
}

// DeleteItem removes a document, conditionally when ifMatch is set.
func (c *Container) DeleteItem(ctx context.Context, id string, ifMatch string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.takeFault("delete", id); err != nil {
		return err
	}

	var err error
	c.docs.Compute(id, func(current types.Document, loaded bool) (types.Document, xsync.ComputeOp) {
		switch {
		case !loaded:
			err = fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
			return current, xsync.CancelOp
		case ifMatch != "" && current.ETag != ifMatch:
			err = fmt.Errorf("%w: %s", types.ErrPreconditionFailed, id)
			return current, xsync.CancelOp
		}

		return current, xsync.DeleteOp
	})

	return err
}

// QueryItemsByIDPrefix returns all documents whose id starts with prefix, ordered by id.
func (c *Container) QueryItemsByIDPrefix(ctx context.Context, prefix string) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.takeFault("query", prefix); err != nil {
		return nil, err
	}

	docs := make([]types.Document, 0)
	c.docs.Range(func(id string, doc types.Document) bool {
		if strings.HasPrefix(id, prefix) {
			docs = append(docs, cloneDoc(doc))
		}

		return true
	})
	slices.SortFunc(docs, func(a, b types.Document) int { return strings.Compare(a.ID, b.ID) })

	return docs, nil
}

// Len returns the number of stored documents.
func (c *Container) Len() int {
	return c.docs.Size()
}

func cloneDoc(doc types.Document) types.Document {
	doc.Body = slices.Clone(doc.Body)
	return doc
}
