package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// TerminalNotifier prints notifications to the terminal. It implements
// NotificationChannel so interactive commands see alerts inline alongside
// whatever remote channels are configured.
type TerminalNotifier struct {
	out          io.Writer
	mu           sync.Mutex
	enabled      bool
	bellEnabled  bool
	colorEnabled bool
}

// NewTerminalNotifier creates a new TerminalNotifier writing to stdout.
func NewTerminalNotifier(colorEnabled bool) *TerminalNotifier {
	return &TerminalNotifier{
		out:          os.Stdout,
		enabled:      true,
		bellEnabled:  true,
		colorEnabled: colorEnabled,
	}
}

// SetBellEnabled enables or disables the terminal bell.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// SetEnabled enables or disables the notifier.
func (tn *TerminalNotifier) SetEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.enabled = enabled
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	return tn.enabled
}

// Send prints the notification to the terminal.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()

	if !tn.enabled {
		return nil
	}

	// Ring bell for alerts so a backgrounded terminal still gets noticed.
	if tn.bellEnabled && n.Type == NotificationAlert {
		fmt.Fprint(tn.out, "\a")
	}

	fmt.Fprintln(tn.out, formatTerminal(n, tn.colorEnabled))
	return nil
}

// formatTerminal formats a notification as a single terminal block.
func formatTerminal(n Notification, colorEnabled bool) string {
	var color, reset string
	if colorEnabled {
		reset = "\033[0m"
		switch n.Type {
		case NotificationAlert:
			color = "\033[33m" // Yellow
		case NotificationError:
			color = "\033[31m" // Red
		case NotificationSummary:
			color = "\033[36m" // Cyan
		default:
			color = "\033[37m" // White
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s[%s] %s%s\n", color, n.Timestamp.Format("15:04:05"), n.Title, reset))
	for _, line := range strings.Split(n.Message, "\n") {
		sb.WriteString("    " + line + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
