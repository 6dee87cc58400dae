//go:build windows

package cli

import "os"

func sessionSignals() []os.Signal {
	return nil
}
