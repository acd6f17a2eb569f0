package monitor

import (
	"fmt"
	"io"
	"os"
)

// CLIMonitor implements the Monitor interface, providing a direct
// terminal-based visualization of agent runs across all sessions.
type CLIMonitor struct {
	writer io.Writer // The output destination, typically os.Stdout.
}

// NewCLIMonitor creates a new CLI monitor
func NewCLIMonitor() *CLIMonitor {
	return &CLIMonitor{
		writer: os.Stdout,
	}
}

// Start starts the CLI monitor
func (m *CLIMonitor) Start() error {
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - Agent run activity will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnEvent receives and displays a run event
func (m *CLIMonitor) OnEvent(ev RunEvent) {
	timestamp := ev.Timestamp.Format("2006-01-02 15:04:05")

	var label string
	switch ev.Kind {
	case "user":
		label = "USER"
	case "tool":
		label = "TOOL"
	case "retry":
		label = "RETRY"
	case "done":
		label = "DONE"
	case "error":
		label = "ERR"
	default:
		label = ev.Kind
	}

	// Use gray color for timestamp
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m [session %d] [%s] %s\n", timestamp, ev.SessionID, label, ev.Detail)
}
