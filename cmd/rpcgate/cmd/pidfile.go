package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// pidFilePath returns where "start" records its PID for "stop".
// RPCGATE_PID_FILE overrides the default location.
func pidFilePath() string {
	if p := os.Getenv("RPCGATE_PID_FILE"); p != "" {
		return p
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".rpcgate", "rpcgate.pid")
	}
	return filepath.Join(os.TempDir(), "rpcgate.pid")
}

// writePIDFile writes the current PID to path, creating parent directories.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// readPIDFile returns the PID stored at path, or 0 if missing or malformed.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
