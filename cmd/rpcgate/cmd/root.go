// Package cmd provides the CLI commands for rpcgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/rpcgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rpcgate",
	Short: "rpcgate - admission gateway for JSON-RPC services",
	Long: `rpcgate sits in front of a JSON-RPC or streaming HTTP service and decides,
per request, whether it may reach the service.

Every request passes rate limiting, an optional static bearer token, a body
size limit, HMAC signature and replay checks, and a payload shape guard
before it is forwarded upstream.

Quick start:
  1. Create a config file: rpcgate.yaml
  2. Run: rpcgate start

Configuration:
  Config is loaded from rpcgate.yaml in the current directory,
  $HOME/.rpcgate/, or /etc/rpcgate/.

  Environment variables can override config values with the RPCGATE_ prefix.
  Example: RPCGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway
  stop        Stop the running gateway
  hash-token  Hash a bearer token for static_auth.token_hash
  sign        Print signature headers for a request body
  config      Print the effective configuration
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./rpcgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
