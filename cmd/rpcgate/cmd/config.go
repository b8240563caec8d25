package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/rpcgate/internal/config"
)

const redacted = "[redacted]"

var configShowSecrets bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load, default and validate the configuration, then print it as YAML.

Secrets (signature.secret, redis.password, logging.client_id_salt) are
redacted unless --show-secrets is given.

Examples:
  rpcgate config
  RPCGATE_RATE_LIMIT_WINDOW=10s rpcgate --config prod.yaml config`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowSecrets, "show-secrets", false, "print secrets in clear text")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if !configShowSecrets {
		redactSecrets(cfg)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if used := config.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// redactSecrets blanks every credential that is set.
func redactSecrets(cfg *config.Config) {
	for _, s := range []*string{
		&cfg.Signature.Secret,
		&cfg.Redis.Password,
		&cfg.Logging.ClientIDSalt,
	} {
		if *s != "" {
			*s = redacted
		}
	}
}
