package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/version"
)

// configEnv names the config file when --config is not given.
const configEnv = config.EnvPrefix + "CONFIG"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tokenfetch",
		Short: "tokenfetch - concurrent platform token acquisition",
		Long: `tokenfetch acquires access tokens for many tenants at once.

Configuration precedence (highest to lowest):
  1. Command-line flags
  2. Environment variables (TOKENFETCH_*, "__" separates nested keys)
  3. Configuration file (--config or TOKENFETCH_CONFIG; .yaml, .json or .toml)
  4. Built-in defaults`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return usagef("a command is required")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.PersistentFlags().StringP("config", "c", "", "config file path (default: $"+configEnv+")")

	root.AddCommand(
		newFetchCmd(),
		newSecretCmd(),
		newConfigCmd(),
		newStubCmd(),
		newVersionCmd(),
	)
	return root
}

// usageArgs turns positional argument errors into usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// configPath returns --config, falling back to TOKENFETCH_CONFIG.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); strings.TrimSpace(p) != "" {
		return p
	}
	return os.Getenv(configEnv)
}

// addConfigFlags registers the flags mapped onto config keys.
func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("platform", "", "default platform domain (default "+config.DefaultPlatform+")")
	fs.String("api-base", "", "override https://api.<platform> when deriving endpoints")
	fs.Int("concurrency", 0, "maximum concurrent exchanges (default 4)")
	fs.Duration("deadline", 0, "deadline for the whole batch, 0 for none")
	fs.Duration("timeout", 0, "timeout per exchange call (default 15s)")
	fs.Int("retries", 0, "maximum attempts per request (default 3)")
	fs.String("secret-backend", "", "default secret backend: keyring|encrypted|vault|mock")
	fs.Bool("stdout", true, "write tokens to stdout")
	fs.String("format", "", "output format: raw|json (default raw)")
	fs.StringP("output", "o", "", "write tokens to this file")
	fs.String("output-mode", "", "file sink mode: overwrite|append (default overwrite)")
	fs.Bool("blob", false, "upload tokens to the configured blob container")
	fs.String("blob-prefix", "", "blob name prefix (default tokens)")
	fs.String("metrics-file", "", "write a Prometheus textfile after the run")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tokenfetch %s\n", version.Info())
		},
	}
}
