//go:build windows

package supervisor

import "os"

// Windows has no graceful termination signal for console children, so the
// stop path goes straight to a hard kill.
func stopSignal() os.Signal {
	return os.Kill
}
