package monitor

import "time"

// RunEvent is a condensed view of one notable moment inside an agent run,
// used for operator-facing monitoring independent of the client stream.
type RunEvent struct {
	Timestamp time.Time
	SessionID int64
	// Kind is one of "user", "tool", "retry", "done", "error".
	Kind   string
	Detail string
}

// Monitor defines the behavior of a run monitor.
type Monitor interface {
	// Start activates the monitor.
	Start() error

	// Stop deactivates the monitor.
	Stop() error

	// OnEvent receives and displays one run event.
	OnEvent(ev RunEvent)
}
