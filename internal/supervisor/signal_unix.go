//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

// stopSignal is the graceful termination signal sent before escalating to a
// hard kill.
func stopSignal() os.Signal {
	return syscall.SIGTERM
}
