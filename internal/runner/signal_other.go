//go:build !unix && !darwin && !linux
// +build !unix,!darwin,!linux

package runner

import "os"

// sendTermSignal falls back to Kill where SIGTERM is unavailable.
func sendTermSignal(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	return proc.Kill()
}
