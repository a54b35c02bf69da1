package types

import "context"

// HealthSeverity classifies a health record.
type HealthSeverity int

const (
	// HealthSeverityInformational records an expected event.
	HealthSeverityInformational HealthSeverity = iota

	// HealthSeverityError records an unexpected failure.
	HealthSeverityError
)

// String returns the string representation of the severity.
func (s HealthSeverity) String() string {
	if s == HealthSeverityError {
		return "error"
	}

	return "informational"
}

// HealthOperation identifies the operation a health record is about.
type HealthOperation string

// HealthOperationAcquireLease is reported for lease acquisition attempts.
const HealthOperationAcquireLease HealthOperation = "acquire_lease"

// HealthRecord is a single observation delivered to a HealthMonitor.
type HealthRecord struct {
	Severity  HealthSeverity
	Operation HealthOperation
	Lease     *Lease
	Err       error
}

// HealthMonitor is an observability sink for partition acquisition outcomes.
//
// Inspect must not block for long; an error returned from Inspect is logged
// and otherwise ignored.
type HealthMonitor interface {
	Inspect(ctx context.Context, record HealthRecord) error
}

// HealthMonitorFunc adapts a function to HealthMonitor.
type HealthMonitorFunc func(ctx context.Context, record HealthRecord) error

// Inspect calls f.
func (f HealthMonitorFunc) Inspect(ctx context.Context, record HealthRecord) error {
	return f(ctx, record)
}
