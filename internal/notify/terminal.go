package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TerminalNotifier prints notifications to a terminal.
type TerminalNotifier struct {
	w           io.Writer
	mu          sync.Mutex
	enabled     bool
	bellEnabled bool
	alert       *color.Color
	err         *color.Color
	info        *color.Color
}

// NewTerminalNotifier creates a TerminalNotifier writing to w.
func NewTerminalNotifier(w io.Writer) *TerminalNotifier {
	return &TerminalNotifier{
		w:           w,
		enabled:     true,
		bellEnabled: true,
		alert:       color.New(color.FgRed, color.Bold),
		err:         color.New(color.FgRed),
		info:        color.New(color.FgCyan),
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

// Send writes one line per notification. Alerts ring the bell.
func (tn *TerminalNotifier) Send(_ context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	if !tn.enabled {
		return nil
	}

	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c := tn.info
	prefix := "ℹ"
	switch n.Type {
	case NotificationAlert:
		c, prefix = tn.alert, "⚠"
		if tn.bellEnabled {
			fmt.Fprint(tn.w, "\a")
		}
	case NotificationError:
		c, prefix = tn.err, "✗"
	}

	_, err := fmt.Fprintf(tn.w, "%s %s %s: %s\n",
		ts.Local().Format("15:04:05"), c.Sprint(prefix), c.Sprint(n.Title), n.Message)
	return err
}
