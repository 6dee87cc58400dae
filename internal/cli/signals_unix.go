//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// sessionSignals returns the signals that start a new trading session.
func sessionSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
