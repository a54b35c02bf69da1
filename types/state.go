package types

// State represents the processor lifecycle state.
//
// States follow a defined progression:
//
//	StateInit → StateBootstrapping → StateResuming → StateRunning → StateStopping → StateStopped
//
// A failed start moves directly to StateStopped.
type State int

const (
	// StateInit is the initial state before Start.
	StateInit State = iota

	// StateBootstrapping indicates the lease collection is being seeded.
	StateBootstrapping

	// StateResuming indicates leases owned before a restart are being resumed.
	StateResuming

	// StateRunning indicates the load balancer is distributing leases.
	StateRunning

	// StateStopping indicates graceful shutdown is in progress.
	StateStopping

	// StateStopped is the terminal state.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateBootstrapping:
		return "Bootstrapping"
	case StateResuming:
		return "Resuming"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
