// Package natskv stores lease documents in a NATS JetStream KeyValue bucket.
//
// Document ids are escaped into valid KV keys, and the entry revision is used
// as the document etag so conditional writes map onto Update(revision) and
// Delete(LastRevision).
package natskv

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/changefeed/internal/kvutil"
	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/natsutil"
	"github.com/arloliu/changefeed/types"
)

// Container is a types.LeaseContainer backed by a JetStream KV bucket.
type Container struct {
	kv     jetstream.KeyValue
	logger types.Logger
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger used for skipped keys and retries.
func WithLogger(logger types.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

var _ types.LeaseContainer = (*Container)(nil)

// New wraps an existing bucket.
//
// Example:
//
//	kv, err := natskv.EnsureBucket(ctx, js, "orders-leases", 3)
//	container := natskv.New(kv)
func New(kv jetstream.KeyValue, opts ...Option) *Container {
	c := &Container{kv: kv}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)

	return c
}

// EnsureBucket creates the lease bucket or opens it when another host already
// created it.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - bucket: Bucket name
//   - replicas: Stream replicas (1 when <= 0)
//
// Returns:
//   - jetstream.KeyValue: The bucket
//   - error: Creation error after retries
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string, replicas int) (jetstream.KeyValue, error) {
	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, kvutil.LeaseBucketConfig(bucket, replicas), 5)
	if err != nil {
		return nil, natsutil.ToStoreError(err)
	}

	return kv, nil
}

// ReadItem returns the document with the given id.
func (c *Container) ReadItem(ctx context.Context, id string) (types.Document, error) {
	entry, err := c.kv.Get(ctx, EncodeKey(id))
	if err != nil {
		return types.Document{}, c.mapError(id, err)
	}

	return toDocument(id, entry), nil
}

// CreateItem stores a new document.
func (c *Container) CreateItem(ctx context.Context, doc types.Document) (types.Document, error) {
	rev, err := c.kv.Create(ctx, EncodeKey(doc.ID), doc.Body)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return types.Document{}, fmt.Errorf("%w: %s", types.ErrDocumentConflict, doc.ID)
		}

		return types.Document{}, c.mapError(doc.ID, err)
	}

	return types.Document{ID: doc.ID, ETag: etag(rev), Body: slices.Clone(doc.Body)}, nil
}

// ReplaceItem overwrites a document whose revision equals ifMatch.
//
// With an empty ifMatch the current revision is read first, so the document
// must still exist.
func (c *Container) ReplaceItem(ctx context.Context, doc types.Document, ifMatch string) (types.Document, error) {
	key := EncodeKey(doc.ID)

	var (
		expected uint64
		err      error
	)
	if ifMatch == "" {
		entry, err := c.kv.Get(ctx, key)
		if err != nil {
			return types.Document{}, c.mapError(doc.ID, err)
		}
		expected = entry.Revision()
	} else if expected, err = parseETag(ifMatch); err != nil {
		return types.Document{}, fmt.Errorf("%w: %s has malformed etag %q", types.ErrPreconditionFailed, doc.ID, ifMatch)
	}

	rev, err := c.kv.Update(ctx, key, doc.Body, expected)
	if err != nil {
		if natsutil.IsWrongRevision(err) {
			return types.Document{}, c.revisionMismatch(ctx, doc.ID, key)
		}

		return types.Document{}, c.mapError(doc.ID, err)
	}

	return types.Document{ID: doc.ID, ETag: etag(rev), Body: slices.Clone(doc.Body)}, nil
}

// DeleteItem removes a document, conditionally when ifMatch is set.
func (c *Container) DeleteItem(ctx context.Context, id string, ifMatch string) error {
	key := EncodeKey(id)

	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		return c.mapError(id, err)
	}
	if ifMatch != "" && etag(entry.Revision()) != ifMatch {
		return fmt.Errorf("%w: %s", types.ErrPreconditionFailed, id)
	}

	if err := c.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision())); err != nil {
		if natsutil.IsWrongRevision(err) {
			return c.revisionMismatch(ctx, id, key)
		}

		return c.mapError(id, err)
	}

	return nil
}

// QueryItemsByIDPrefix returns all documents whose id starts with prefix, ordered by id.
//
// Keys are listed and filtered client side. A key deleted between listing and
// reading is skipped.
func (c *Container) QueryItemsByIDPrefix(ctx context.Context, prefix string) ([]types.Document, error) {
	lister, err := c.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []types.Document{}, nil
		}

		return nil, natsutil.ToStoreError(err)
	}
	defer func() {
		_ = lister.Stop()
	}()

	ids := make([]string, 0)
	for key := range lister.Keys() {
		id, err := DecodeKey(key)
		if err != nil {
			c.logger.Warn("skipping key that is not a document id", "key", key, "error", err)
			continue
		}
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slices.Sort(ids)

	docs := make([]types.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := c.ReadItem(ctx, id)
		if errors.Is(err, types.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// revisionMismatch tells a lost race apart from a concurrent delete.
func (c *Container) revisionMismatch(ctx context.Context, id string, key string) error {
	if _, err := c.kv.Get(ctx, key); errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}

	return fmt.Errorf("%w: %s", types.ErrPreconditionFailed, id)
}

func (c *Container) mapError(id string, err error) error {
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}

	return natsutil.ToStoreError(fmt.Errorf("kv operation on %s failed: %w", id, err))
}

func toDocument(id string, entry jetstream.KeyValueEntry) types.Document {
	return types.Document{ID: id, ETag: etag(entry.Revision()), Body: slices.Clone(entry.Value())}
}

func etag(rev uint64) string {
	return strconv.FormatUint(rev, 10)
}

func parseETag(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
