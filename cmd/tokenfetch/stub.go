package main

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/stubplatform"
)

func newStubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve a local emulation of the platform token endpoints",
		Long: `Serve the REST, MQTT and OAuth2 token endpoints locally, configured by the
stub section of the config. Point fetch at it with --api-base http://<addr>.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: runStub,
	}
	cmd.Flags().String("stub-addr", "", "listen address (default 127.0.0.1:8089)")
	return cmd
}

func runStub(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath(cmd), cmd.Flags())
	if err != nil {
		return err
	}
	addr, err := stubplatform.ParseAddr(cfg.Stub.Addr)
	if err != nil {
		return usagef("stub address %q: %v", cfg.Stub.Addr, err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := stubplatform.New(stubplatform.Options{
		APIKeys:      cfg.Stub.APIKeys,
		Clients:      cfg.Stub.Clients,
		SigningKey:   []byte(cfg.Stub.SigningKey),
		TokenTTL:     cfg.Stub.TokenTTL,
		MQTTEndpoint: cfg.Stub.MQTTEndpoint,
		Unavailable:  cfg.Stub.Unavailable,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info().Str("action", "stub").Str("addr", ln.Addr().String()).
		Int("tenants", len(cfg.Stub.APIKeys)).Int("clients", len(cfg.Stub.Clients)).Msg("stub platform listening")

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
	}
	log.Info().Str("action", "stub").Msg("stub platform shutting down")
	if err := srv.Shutdown(); err != nil {
		return fmt.Errorf("shutdown stub: %w", err)
	}
	return nil
}
