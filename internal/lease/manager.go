package lease

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/internal/metrics"
	"github.com/arloliu/changefeed/types"
)

// ManagerConfig holds lease manager configuration.
type ManagerConfig struct {
	// Required dependencies
	Container types.LeaseContainer

	// Required configuration
	Prefix   string // Document id prefix shared by all hosts
	HostName string // Owner name written into acquired leases

	// Optional configuration (with defaults)
	MaxUpdateAttempts int              // Conflict retry bound (default: 5)
	Now               func() time.Time // Clock for lease timestamps (default: time.Now)

	// Optional dependencies
	Logger  types.Logger           // Logger (default: no-op)
	Metrics types.MetricsCollector // Metrics collector (default: no-op)
}

// Validate checks configuration validity.
func (c *ManagerConfig) Validate() error {
	if c.Container == nil {
		return types.ErrLeaseContainerRequired
	}
	if c.Prefix == "" {
		return errors.New("the Prefix is required")
	}
	if c.HostName == "" {
		return errors.New("the HostName is required")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *ManagerConfig) SetDefaults() {
	if c.MaxUpdateAttempts <= 0 {
		c.MaxUpdateAttempts = DefaultMaxUpdateAttempts
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	c.Logger = logging.OrNop(c.Logger)
	c.Metrics = metrics.OrNop(c.Metrics)
}

// Manager performs lease operations on behalf of one host.
type Manager struct {
	container types.LeaseContainer
	prefix    string
	hostName  string
	updater   *Updater
	now       func() time.Time
	logger    types.Logger
	metrics   types.MetricsCollector
}

// NewManager creates a lease manager.
//
// Parameters:
//   - cfg: Manager configuration
//
// Returns:
//   - *Manager: Lease manager bound to cfg.HostName
//   - error: Configuration error
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	cfg.SetDefaults()

	return &Manager{
		container: cfg.Container,
		prefix:    cfg.Prefix,
		hostName:  cfg.HostName,
		updater:   NewUpdater(cfg.Container, cfg.MaxUpdateAttempts, cfg.Now, cfg.Logger, cfg.Metrics),
		now:       cfg.Now,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// HostName returns the owner name this manager writes into leases.
func (m *Manager) HostName() string {
	return m.hostName
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) record(op string, start time.Time, err error) {
	m.metrics.RecordLeaseOperation(op, err == nil, time.Since(start).Seconds())
}

// Acquire takes ownership of a lease.
//
// The lease must still be owned by whoever owned it when the caller read it;
// if another host changed the owner in the meantime the acquisition fails
// with types.ErrLeaseLost. When every update attempt collides, the last
// server copy decides: another owner means types.ErrLeaseLost, anything else
// types.ErrLeaseConflict. A lease is never returned unless this host wrote it.
//
// Returns:
//   - *types.Lease: The acquired lease with a new concurrency token
//   - error: types.ErrLeaseLost, types.ErrLeaseConflict or a store error
func (m *Manager) Acquire(ctx context.Context, lease *types.Lease) (l *types.Lease, err error) {
	defer func(start time.Time) { m.record("acquire", start, err) }(time.Now())

	observedOwner := lease.Owner
	l, err = m.settle(m.updater.apply(ctx, lease, "acquire", func(server *types.Lease) (*types.Lease, error) {
		if server.Owner != observedOwner {
			return nil, fmt.Errorf("%w: lease %s taken by %q, expected %q",
				types.ErrLeaseLost, server.LeaseToken, server.Owner, observedOwner)
		}
		server.Owner = m.hostName

		return server, nil
	}))
	if err != nil {
		return nil, err
	}

	m.logger.Debug("lease acquired", "lease", l.LeaseToken, "previousOwner", observedOwner)

	return l, nil
}

// Release gives up ownership of a lease held by this host.
//
// The lease is re-read first; it fails with types.ErrLeaseLost when another
// host already holds it.
func (m *Manager) Release(ctx context.Context, lease *types.Lease) (err error) {
	defer func(start time.Time) { m.record("release", start, err) }(time.Now())

	server, err := m.read(ctx, lease.ID)
	if err != nil {
		return err
	}

	released, written, err := m.updater.apply(ctx, server, "release", func(server *types.Lease) (*types.Lease, error) {
		if !server.IsOwnedBy(m.hostName) {
			return nil, m.lostError(server)
		}
		server.Owner = ""

		return server, nil
	})
	// a lease another host released meanwhile needs nothing more
	if !written && err == nil && released.Owner == "" {
		written = true
	}
	if _, err = m.settle(released, written, err); err != nil {
		return err
	}

	m.logger.Debug("lease released", "lease", lease.LeaseToken)

	return nil
}

// Renew re-confirms ownership of a lease and refreshes its timestamp.
func (m *Manager) Renew(ctx context.Context, lease *types.Lease) (l *types.Lease, err error) {
	defer func(start time.Time) { m.record("renew", start, err) }(time.Now())

	server, err := m.read(ctx, lease.ID)
	if err != nil {
		return nil, err
	}

	return m.settle(m.updater.apply(ctx, server, "renew", func(server *types.Lease) (*types.Lease, error) {
		if !server.IsOwnedBy(m.hostName) {
			return nil, m.lostError(server)
		}

		return server, nil
	}))
}

// Checkpoint records continuation as the resume position of a lease.
//
// An empty continuation fails with types.ErrEmptyContinuation before any
// store access. A checkpoint that could not be written within the update
// attempts fails with types.ErrLeaseConflict.
func (m *Manager) Checkpoint(ctx context.Context, lease *types.Lease, continuation string) (l *types.Lease, err error) {
	if continuation == "" {
		return nil, fmt.Errorf("%w: lease %s", types.ErrEmptyContinuation, lease.LeaseToken)
	}

	defer func(start time.Time) { m.record("checkpoint", start, err) }(time.Now())

	return m.settle(m.updater.apply(ctx, lease, "checkpoint", func(server *types.Lease) (*types.Lease, error) {
		if !server.IsOwnedBy(m.hostName) {
			return nil, m.lostError(server)
		}
		server.ContinuationToken = continuation

		return server, nil
	}))
}

// UpdateProperties merges the properties of lease into the stored lease.
//
// The lease must be owned by this host.
func (m *Manager) UpdateProperties(ctx context.Context, lease *types.Lease) (l *types.Lease, err error) {
	defer func(start time.Time) { m.record("update_properties", start, err) }(time.Now())

	if !lease.IsOwnedBy(m.hostName) {
		return nil, m.lostError(lease)
	}

	props := maps.Clone(lease.Properties)

	return m.settle(m.updater.apply(ctx, lease, "update_properties", func(server *types.Lease) (*types.Lease, error) {
		if !server.IsOwnedBy(m.hostName) {
			return nil, m.lostError(server)
		}
		if server.Properties == nil {
			server.Properties = make(map[string]string, len(props))
		}
		maps.Copy(server.Properties, props)

		return server, nil
	}))
}

// Delete removes a lease. A lease that is already gone is not an error.
func (m *Manager) Delete(ctx context.Context, lease *types.Lease) (err error) {
	defer func(start time.Time) { m.record("delete", start, err) }(time.Now())

	err = m.container.DeleteItem(ctx, lease.ID, "")
	if err != nil && !errors.Is(err, types.ErrDocumentNotFound) {
		return fmt.Errorf("failed to delete lease %s: %w", lease.LeaseToken, err)
	}

	m.logger.Info("lease deleted", "lease", lease.LeaseToken)

	return nil
}

// CreateLeaseIfNotExist creates an unowned lease for a partition.
//
// Returns:
//   - *types.Lease: The created lease, or nil when it already existed
//   - error: Store error
func (m *Manager) CreateLeaseIfNotExist(ctx context.Context, leaseToken string, continuation string) (l *types.Lease, err error) {
	defer func(start time.Time) { m.record("create", start, err) }(time.Now())

	lease := &types.Lease{
		ID:                ID(m.prefix, leaseToken),
		LeaseToken:        leaseToken,
		ContinuationToken: continuation,
		Timestamp:         m.now().UTC(),
	}

	doc, err := encode(lease)
	if err != nil {
		return nil, err
	}

	created, err := m.container.CreateItem(ctx, doc)
	if err != nil {
		if errors.Is(err, types.ErrDocumentConflict) {
			m.logger.Debug("lease already exists", "lease", leaseToken)
			return nil, nil //nolint:nilnil // nil lease signals an existing lease
		}

		return nil, fmt.Errorf("failed to create lease %s: %w", leaseToken, err)
	}

	m.logger.Info("lease created", "lease", leaseToken, "continuation", continuation)

	return decode(created)
}

// Get reads the current server copy of the lease for leaseToken.
func (m *Manager) Get(ctx context.Context, leaseToken string) (*types.Lease, error) {
	return m.read(ctx, ID(m.prefix, leaseToken))
}

// ListAllLeases returns every lease under the manager's prefix.
func (m *Manager) ListAllLeases(ctx context.Context) ([]*types.Lease, error) {
	docs, err := m.container.QueryItemsByIDPrefix(ctx, IDPrefix(m.prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}

	leases := make([]*types.Lease, 0, len(docs))
	for _, doc := range docs {
		l, err := decode(doc)
		if err != nil {
			m.logger.Warn("skipping undecodable lease document", "id", doc.ID, "error", err)
			continue
		}
		leases = append(leases, l)
	}

	return leases, nil
}

// ListOwnedLeases returns the leases currently owned by this host.
func (m *Manager) ListOwnedLeases(ctx context.Context) ([]*types.Lease, error) {
	all, err := m.ListAllLeases(ctx)
	if err != nil {
		return nil, err
	}

	owned := make([]*types.Lease, 0, len(all))
	for _, l := range all {
		if l.IsOwnedBy(m.hostName) {
			owned = append(owned, l)
		}
	}

	return owned, nil
}

func (m *Manager) read(ctx context.Context, id string) (*types.Lease, error) {
	return m.updater.read(ctx, id)
}

// settle re-checks an update that ran out of attempts. The server copy it
// returned either belongs to another host, which is a lost lease, or was
// never written, which is a conflict.
func (m *Manager) settle(l *types.Lease, written bool, err error) (*types.Lease, error) {
	switch {
	case err != nil:
		return nil, err
	case written:
		return l, nil
	case !l.IsOwnedBy(m.hostName):
		return nil, m.lostError(l)
	default:
		return nil, fmt.Errorf("%w: update of lease %s ran out of attempts", types.ErrLeaseConflict, l.LeaseToken)
	}
}

func (m *Manager) lostError(server *types.Lease) error {
	return fmt.Errorf("%w: lease %s is owned by %q, not %q",
		types.ErrLeaseLost, server.LeaseToken, server.Owner, m.hostName)
}
