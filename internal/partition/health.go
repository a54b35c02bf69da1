package partition

import (
	"context"
	"errors"

	"github.com/arloliu/changefeed/internal/logging"
	"github.com/arloliu/changefeed/types"
)

// PartitionController is the API the load balancer drives.
type PartitionController interface {
	Initialize(ctx context.Context) error
	AddOrUpdateLease(ctx context.Context, lease *types.Lease) error
	Shutdown()
}

var (
	_ PartitionController = (*Controller)(nil)
	_ PartitionController = (*HealthMonitoringController)(nil)
)

// HealthMonitoringController reports the outcome of every lease acquisition
// to a HealthMonitor.
//
// Lost races, store errors and cancellation are expected while hosts compete
// for leases and are not reported at all. Successful acquisitions are
// reported as informational and any other failure as an error.
type HealthMonitoringController struct {
	inner   PartitionController
	monitor types.HealthMonitor
	logger  types.Logger
}

// NewHealthMonitoringController decorates inner.
func NewHealthMonitoringController(inner PartitionController, monitor types.HealthMonitor, logger types.Logger) *HealthMonitoringController {
	return &HealthMonitoringController{inner: inner, monitor: monitor, logger: logging.OrNop(logger)}
}

// Initialize delegates to the wrapped controller.
func (h *HealthMonitoringController) Initialize(ctx context.Context) error {
	return h.inner.Initialize(ctx)
}

// AddOrUpdateLease delegates and reports the result. The wrapped controller's
// error is always returned unchanged.
func (h *HealthMonitoringController) AddOrUpdateLease(ctx context.Context, lease *types.Lease) error {
	err := h.inner.AddOrUpdateLease(ctx, lease)

	record := types.HealthRecord{
		Severity:  types.HealthSeverityInformational,
		Operation: types.HealthOperationAcquireLease,
		Lease:     lease,
	}
	if err != nil {
		if isExpectedAcquireError(err) {
			return err
		}
		record.Severity = types.HealthSeverityError
		record.Err = err
	}

	if inspectErr := h.monitor.Inspect(ctx, record); inspectErr != nil {
		h.logger.Warn("health monitor failed", "lease", lease.LeaseToken, "error", inspectErr)
	}

	return err
}

// Shutdown delegates to the wrapped controller.
func (h *HealthMonitoringController) Shutdown() {
	h.inner.Shutdown()
}

func isExpectedAcquireError(err error) bool {
	return types.IsStoreError(err) ||
		errors.Is(err, types.ErrLeaseLost) ||
		errors.Is(err, types.ErrLeaseConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
