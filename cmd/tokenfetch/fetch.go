package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/acquire"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/metrics"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

// errReported is returned once failures have already been logged.
var errReported = errors.New("run completed with failures")

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Acquire tokens and write them to the configured sinks",
		Long: `Acquire tokens for every request in the config file plus the one described
by --tenant, if given. Tokens are written to stdout and any other enabled sink;
logs go to stderr.

Exit status is 0 when every request and every sink succeeded, 1 otherwise.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: runFetch,
	}

	addConfigFlags(cmd.Flags())

	// Single request
	cmd.Flags().String("tenant", "", "tenant of a single request")
	cmd.Flags().String("client-id", "", "client id (default: tenant)")
	cmd.Flags().String("secret", "", `secret reference, "backend:name" or "name" (default: tenant)`)
	cmd.Flags().String("method", "", "token method: dsh_rest|dsh_mqtt|client_credentials (default dsh_rest)")
	cmd.Flags().String("endpoint", "", "token endpoint URL (default: derived from platform)")
	cmd.Flags().String("scope", "", "OAuth2 scope")
	cmd.Flags().String("claims", "", "MQTT claims as JSON")
	cmd.Flags().Int("amount", 0, "fetch this many dsh_mqtt tokens, each under its own client id")

	return cmd
}

func runFetch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(configPath(cmd), cmd.Flags())
	if err != nil {
		return err
	}
	reqs, err := acquire.RequestsFromConfig(cfg)
	if err != nil {
		return err
	}
	single, err := requestsFromFlags(cmd, cfg.Platform)
	if err != nil {
		return usageError{err}
	}
	reqs = append(reqs, single...)
	if len(reqs) == 0 {
		return usagef("no requests: pass --tenant or list requests in the config file")
	}
	if err := acquire.CheckBatch(reqs); err != nil {
		return usageError{err}
	}

	writer, err := newWriter(cfg)
	if err != nil {
		return err
	}

	refs := make([]secret.Reference, 0, len(reqs))
	for _, r := range reqs {
		refs = append(refs, r.Secret)
	}
	store := openSecrets(cfg, refs)
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Str("action", "secret_close").Msg("closing secret backends failed")
		}
	}()

	eng := acquire.New(store, newClient(cfg.Engine.Timeout), acquire.Options{
		Deadline: cfg.Engine.Deadline,
		Retry:    cfg.RetryOptions(),
		APIBase:  cfg.APIBase,
	})

	start := time.Now()
	outcomes := eng.Run(ctx, reqs, cfg.Engine.MaxConcurrency)
	rep := writer.Deliver(ctx, outcomes)
	sum := acquire.Summarize(outcomes)

	ev := log.Info()
	if sum.Failed > 0 || !rep.OK() {
		ev = log.Error()
	}
	ev.Str("action", "fetch").
		Int("requests", sum.Total).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Dict("by_kind", byKind(sum)).
		Int("sink_errors", len(rep.Errors)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("fetch finished")

	writeMetrics(cfg)

	if sum.Failed > 0 || !rep.OK() {
		return errReported
	}
	return nil
}

// requestsFromFlags builds the request described by flags, repeated
// --amount times. It returns nothing when --tenant is not set.
func requestsFromFlags(cmd *cobra.Command, platform string) ([]acquire.Request, error) {
	fs := cmd.Flags()
	tenant, _ := fs.GetString("tenant")
	if tenant == "" {
		for _, name := range []string{"client-id", "secret", "method", "endpoint", "scope", "claims", "amount"} {
			if fs.Changed(name) {
				return nil, fmt.Errorf("--%s requires --tenant", name)
			}
		}
		return nil, nil
	}
	rc := config.RequestConfig{Tenant: tenant}
	rc.ClientID, _ = fs.GetString("client-id")
	rc.Secret, _ = fs.GetString("secret")
	rc.Method, _ = fs.GetString("method")
	rc.Endpoint, _ = fs.GetString("endpoint")
	rc.Scope, _ = fs.GetString("scope")
	rc.Claims, _ = fs.GetString("claims")
	rc.Amount, _ = fs.GetInt("amount")
	if rc.Secret == "" {
		rc.Secret = tenant
	}
	return acquire.ExpandRequest(platform, rc)
}

func byKind(sum acquire.Summary) *zerolog.Event {
	d := zerolog.Dict()
	for k, n := range sum.ByKind {
		d.Int(k.String(), n)
	}
	return d
}

func writeMetrics(cfg config.Config) {
	metrics.MarkRun(time.Now())
	if cfg.Metrics.File == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.Metrics.File); err != nil {
		log.Warn().Err(err).Str("action", "metrics").Str("file", cfg.Metrics.File).Msg("writing metrics textfile failed")
	}
}
