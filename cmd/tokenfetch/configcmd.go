package main

import (
	"fmt"
	"maps"
	"strings"

	"github.com/goccy/go-yaml"
	masker "github.com/goliatone/go-masker"
	"github.com/spf13/cobra"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath(cmd), cmd.Flags())
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(masked(cfg))
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addConfigFlags(show.Flags())
	show.Flags().String("stub-addr", "", "stub platform listen address")
	cmd.AddCommand(show)
	return cmd
}

// masked returns a copy of cfg with credentials masked.
func masked(cfg config.Config) config.Config {
	cfg.Secrets.Vault.Token = mask(cfg.Secrets.Vault.Token)
	cfg.Secrets.Mock.Values = maskValues(cfg.Secrets.Mock.Values)
	cfg.Sinks.Blob.SASToken = mask(cfg.Sinks.Blob.SASToken)
	cfg.Sinks.Blob.ClientSecret = mask(cfg.Sinks.Blob.ClientSecret)
	cfg.Stub.SigningKey = mask(cfg.Stub.SigningKey)
	cfg.Stub.APIKeys = maskValues(cfg.Stub.APIKeys)
	cfg.Stub.Clients = maskValues(cfg.Stub.Clients)
	return cfg
}

func maskValues(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = mask(v)
	}
	return out
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	if m, err := masker.Default.String("preserveEnds(2,2)", value); err == nil && m != value {
		return m
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
