package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Document is a single item of a LeaseContainer.
type Document struct {
	// ID is the unique document id.
	ID string

	// ETag changes on every successful write and guards conditional writes.
	ETag string

	// Body is the opaque document payload.
	Body []byte
}

// LeaseContainer is the conditional document store that holds leases and the
// bootstrap marker documents.
//
// Implementations must map their native failures onto ErrDocumentNotFound,
// ErrDocumentConflict and ErrPreconditionFailed. Transient failures should be
// returned as *StoreError with a 429 or 5xx status code.
type LeaseContainer interface {
	// ReadItem returns the document with the given id.
	ReadItem(ctx context.Context, id string) (Document, error)

	// CreateItem stores a new document. It fails with ErrDocumentConflict when
	// a document with the same id exists.
	CreateItem(ctx context.Context, doc Document) (Document, error)

	// ReplaceItem overwrites an existing document when its etag equals ifMatch.
	// It fails with ErrPreconditionFailed on an etag mismatch and with
	// ErrDocumentNotFound when the document does not exist.
	ReplaceItem(ctx context.Context, doc Document, ifMatch string) (Document, error)

	// DeleteItem removes a document. An empty ifMatch deletes unconditionally.
	DeleteItem(ctx context.Context, id string, ifMatch string) error

	// QueryItemsByIDPrefix returns all documents whose id starts with prefix.
	QueryItemsByIDPrefix(ctx context.Context, prefix string) ([]Document, error)
}

// Lease container errors.
var (
	// ErrDocumentNotFound is returned when a document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentConflict is returned when creating a document that already exists.
	ErrDocumentConflict = errors.New("document already exists")

	// ErrPreconditionFailed is returned when a conditional write loses a race.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Sub-status codes attached to StoreError.
const (
	// SubStatusReadSessionNotAvailable marks a 404 that does not mean the
	// partition is gone.
	SubStatusReadSessionNotAvailable = 1002

	// SubStatusPartitionKeyRangeGone marks a 410 for a partition replaced by children.
	SubStatusPartitionKeyRangeGone = 1002

	// SubStatusCompletingSplit marks a 410 for a partition that is splitting.
	SubStatusCompletingSplit = 1007

	// SubStatusCompletingPartitionMigration marks a 410 for a partition that is moving.
	SubStatusCompletingPartitionMigration = 1008
)

// StoreError is a status-coded failure returned by a feed source or lease
// container.
type StoreError struct {
	StatusCode    int
	SubStatusCode int

	// RetryAfter is the server-suggested wait before retrying, when known.
	RetryAfter time.Duration

	Err error
}

// NewStoreError creates a StoreError for the given status and sub-status.
func NewStoreError(statusCode, subStatusCode int, err error) *StoreError {
	return &StoreError{StatusCode: statusCode, SubStatusCode: subStatusCode, Err: err}
}

func (e *StoreError) Error() string {
	msg := http.StatusText(e.StatusCode)
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return fmt.Sprintf("store error %d/%d: %s", e.StatusCode, e.SubStatusCode, msg)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the failure is throttling or a server error
// that should be retried.
func (e *StoreError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsStoreError reports whether err originated from a lease container or feed
// source, as opposed to a programming or observer failure.
func IsStoreError(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return true
	}

	return errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrDocumentConflict) ||
		errors.Is(err, ErrPreconditionFailed)
}
