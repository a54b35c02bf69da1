package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

// StoreConfig holds lease store configuration.
type StoreConfig struct {
	Container types.LeaseContainer
	Prefix    string

	// LockOwner identifies this host in the initialization lock. Defaults to a
	// random id so two processors sharing a host name never release each
	// other's lock.
	LockOwner string

	Now    func() time.Time
	Logger types.Logger
}

// Store tracks whether the lease collection has been bootstrapped and guards
// bootstrapping with a short-lived lock.
type Store struct {
	container types.LeaseContainer
	prefix    string
	owner     string
	now       func() time.Time
	logger    types.Logger

	lockETag string
}

type infoBody struct {
	InitializedAt time.Time `json:"initializedAt"`
}

type lockBody struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewStore creates a lease store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Container == nil {
		return nil, types.ErrLeaseContainerRequired
	}
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("%w: the Prefix is required", types.ErrInvalidConfig)
	}
	if cfg.LockOwner == "" {
		cfg.LockOwner = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		container: cfg.Container,
		prefix:    cfg.Prefix,
		owner:     cfg.LockOwner,
		now:       cfg.Now,
		logger:    logging.OrNop(cfg.Logger),
	}, nil
}

// IsInitialized reports whether the completion marker exists.
func (s *Store) IsInitialized(ctx context.Context) (bool, error) {
	_, err := s.container.ReadItem(ctx, infoID(s.prefix))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, types.ErrDocumentNotFound) {
		return false, nil
	}

	return false, fmt.Errorf("failed to read initialization marker: %w", err)
}

// MarkInitialized writes the completion marker. An existing marker is not an error.
func (s *Store) MarkInitialized(ctx context.Context) error {
	body, err := json.Marshal(infoBody{InitializedAt: s.now().UTC()})
	if err != nil {
		return err
	}

	_, err = s.container.CreateItem(ctx, types.Document{ID: infoID(s.prefix), Body: body})
	if err != nil && !errors.Is(err, types.ErrDocumentConflict) {
		return fmt.Errorf("failed to write initialization marker: %w", err)
	}

	return nil
}

// AcquireInitializationLock tries to take the bootstrap lock for ttl.
//
// A lock left behind by a crashed host is removed once it expires.
//
// Returns:
//   - bool: true when this store now holds the lock
//   - error: Store error
func (s *Store) AcquireInitializationLock(ctx context.Context, ttl time.Duration) (bool, error) {
	for range 2 {
		acquired, err := s.tryCreateLock(ctx, ttl)
		if err != nil || acquired {
			return acquired, err
		}

		expired, err := s.removeExpiredLock(ctx)
		if err != nil || !expired {
			return false, err
		}
	}

	return false, nil
}

func (s *Store) tryCreateLock(ctx context.Context, ttl time.Duration) (bool, error) {
	body, err := json.Marshal(lockBody{Owner: s.owner, ExpiresAt: s.now().Add(ttl).UTC()})
	if err != nil {
		return false, err
	}

	doc, err := s.container.CreateItem(ctx, types.Document{ID: lockID(s.prefix), Body: body})
	if err != nil {
		if errors.Is(err, types.ErrDocumentConflict) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create initialization lock: %w", err)
	}

	s.lockETag = doc.ETag
	s.logger.Debug("initialization lock acquired", "owner", s.owner, "ttl", ttl)

	return true, nil
}

func (s *Store) removeExpiredLock(ctx context.Context) (bool, error) {
	doc, err := s.container.ReadItem(ctx, lockID(s.prefix))
	if err != nil {
		if errors.Is(err, types.ErrDocumentNotFound) {
			return true, nil
		}

		return false, fmt.Errorf("failed to read initialization lock: %w", err)
	}

	var lock lockBody
	if err := json.Unmarshal(doc.Body, &lock); err != nil {
		return false, fmt.Errorf("failed to decode initialization lock: %w", err)
	}
	if s.now().Before(lock.ExpiresAt) {
		return false, nil
	}

	err = s.container.DeleteItem(ctx, doc.ID, doc.ETag)
	if err != nil && !errors.Is(err, types.ErrDocumentNotFound) && !errors.Is(err, types.ErrPreconditionFailed) {
		return false, fmt.Errorf("failed to remove expired initialization lock: %w", err)
	}

	s.logger.Warn("removed expired initialization lock", "previousOwner", lock.Owner)

	return true, nil
}

// ReleaseInitializationLock releases the lock if this store still holds it.
//
// Returns:
//   - bool: true when the lock was released by this call
//   - error: Store error
func (s *Store) ReleaseInitializationLock(ctx context.Context) (bool, error) {
	if s.lockETag == "" {
		return false, nil
	}

	etag := s.lockETag
	s.lockETag = ""

	err := s.container.DeleteItem(ctx, lockID(s.prefix), etag)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, types.ErrDocumentNotFound) || errors.Is(err, types.ErrPreconditionFailed) {
		s.logger.Warn("initialization lock was taken over before release", "owner", s.owner)
		return false, nil
	}

	return false, fmt.Errorf("failed to release initialization lock: %w", err)
}
