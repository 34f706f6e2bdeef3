package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

// maxSecretSize bounds what "secret set" reads from stdin.
const maxSecretSize = 64 << 10

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in writable backends",
		Long: `Manage secrets in writable backends (keyring, encrypted, vault).

NAME is a reference, "backend:name" or "name" for the default backend
(secrets.backend).`,
	}
	cmd.PersistentFlags().String("secret-backend", "", "default secret backend: keyring|encrypted|vault|mock")

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME",
		Short: "Store a secret read from stdin",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE:  runSecretSet,
	}, &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a secret",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE:  runSecretDelete,
	}, &cobra.Command{
		Use:   "list [BACKEND]",
		Short: "List secret names (values are never printed)",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE:  runSecretList,
	})
	return cmd
}

// openWriter resolves NAME to a writable backend.
func openWriter(cmd *cobra.Command, name string) (secret.Reference, secret.Writer, func(), error) {
	ref, err := secret.ParseReference(name)
	if err != nil {
		return secret.Reference{}, nil, nil, usageError{err}
	}
	cfg, err := loadConfig(configPath(cmd), cmd.Flags())
	if err != nil {
		return secret.Reference{}, nil, nil, err
	}
	router := openSecrets(cfg, []secret.Reference{ref})
	closeFn := func() {
		if err := router.Close(); err != nil {
			log.Warn().Err(err).Str("action", "secret_close").Msg("closing secret backends failed")
		}
	}
	w, err := router.Writer(ref.Backend)
	if err != nil {
		closeFn()
		return secret.Reference{}, nil, nil, err
	}
	if ref.Backend == "" {
		ref.Backend = cfg.Secrets.Backend
	}
	return ref, w, closeFn, nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	value, err := io.ReadAll(io.LimitReader(stdin, maxSecretSize+1))
	if err != nil {
		return fmt.Errorf("read secret from stdin: %w", err)
	}
	defer clear(value)
	if len(value) > maxSecretSize {
		return fmt.Errorf("secret larger than %d bytes", maxSecretSize)
	}
	value = bytes.TrimRight(value, "\r\n")
	if len(value) == 0 {
		return secret.ErrEmptyValue
	}

	ref, w, closeFn, err := openWriter(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	if err := w.Put(cmd.Context(), ref.Name, value); err != nil {
		return fmt.Errorf("store secret %q: %w", ref.Name, err)
	}
	log.Info().Str("action", "secret_set").Str("backend", ref.Backend).Str("name", ref.Name).Msg("secret stored")
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	ref, w, closeFn, err := openWriter(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	if err := w.Delete(cmd.Context(), ref.Name); err != nil {
		return fmt.Errorf("delete secret %q: %w", ref.Name, err)
	}
	log.Info().Str("action", "secret_delete").Str("backend", ref.Backend).Str("name", ref.Name).Msg("secret deleted")
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath(cmd), cmd.Flags())
	if err != nil {
		return err
	}
	var refs []secret.Reference
	hint := ""
	if len(args) == 1 {
		hint = args[0]
		refs = append(refs, secret.Reference{Name: "*", Backend: hint})
	}
	router := openSecrets(cfg, refs)
	defer func() { _ = router.Close() }()

	l, err := router.Lister(hint)
	if err != nil {
		return err
	}
	names, err := l.Names(cmd.Context())
	if err != nil {
		return fmt.Errorf("list secrets: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}
