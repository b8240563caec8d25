package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information. Populated at build time via -ldflags.
var (
	Version   = "0.1.0"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit, and build date of rpcgate.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rpcgate %s\n", Version)
		fmt.Fprintf(out, "  Commit:     %s\n", Commit)
		fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
		fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
