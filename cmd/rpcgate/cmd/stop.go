package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running rpcgate server",
	Long: `Stop a running rpcgate server by reading its PID file and asking it to
shut down. In-flight requests are drained before the process exits.

The PID file is located at ~/.rpcgate/rpcgate.pid unless RPCGATE_PID_FILE
is set.

Examples:
  rpcgate stop
  rpcgate stop --timeout 30s`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait before killing the process")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	errOut := cmd.ErrOrStderr()
	pidPath := pidFilePath()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no PID file found at %s\nIs the server running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !processIsAlive(proc) {
		_ = os.Remove(pidPath)
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(errOut, "Stopping rpcgate (PID %d)...\n", pid)
	if err := requestStop(proc); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		if !processIsAlive(proc) {
			_ = os.Remove(pidPath)
			fmt.Fprintln(errOut, "Server stopped.")
			return nil
		}
	}

	fmt.Fprintln(errOut, "Server did not stop in time, killing...")
	_ = proc.Kill()
	_ = os.Remove(pidPath)
	fmt.Fprintln(errOut, "Server killed.")
	return nil
}
