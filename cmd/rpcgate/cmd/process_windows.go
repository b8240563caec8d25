//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// shutdownSignals are the signals that trigger a graceful stop of "start".
// Only os.Interrupt is delivered reliably on Windows.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// stillActive is the exit code Windows reports for a running process.
const stillActive = 259

// processIsAlive opens a query handle and checks the exit code.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer func() { _ = windows.CloseHandle(handle) }()

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == stillActive
}

// requestStop terminates the process. Windows has no SIGTERM.
func requestStop(proc *os.Process) error {
	return proc.Kill()
}
