//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals are the signals that trigger a graceful stop of "start".
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processIsAlive probes the process with signal 0.
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// requestStop asks the gateway to drain and exit.
func requestStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
