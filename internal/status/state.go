// Package status holds the shared per-core test status table.
//
// One Table is written by the monitors of the running test and read by the
// coordinator, the dashboard, the metrics collector and the exit summary.
// Every mutator takes the write lock for a short, non-blocking update.
package status

// MethodRunState is the lifecycle state of one method on one core.
type MethodRunState int

const (
	// Idle: not started yet, or reset by Stop.
	Idle MethodRunState = iota

	// Testing: the stress tool is running.
	Testing

	// Success: the budget elapsed with no failure marker.
	Success

	// Failed: a failure marker was observed, or the tool could not start.
	Failed
)

// String returns a human-readable name for the state.
func (s MethodRunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Testing:
		return "testing"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s MethodRunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether s is a final verdict.
func (s MethodRunState) IsTerminal() bool {
	return s == Success || s == Failed
}

// CanTransition reports whether from → to is allowed.
//
//	Idle    → Testing
//	Testing → Success | Failed | Idle
func CanTransition(from, to MethodRunState) bool {
	switch from {
	case Idle:
		return to == Testing
	case Testing:
		return to == Success || to == Failed || to == Idle
	default:
		return false
	}
}
