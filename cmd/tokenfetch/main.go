package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/logx"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/sink"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/tokenclient"

	_ "github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret/encrypted"
	_ "github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret/keyring"
	_ "github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret/vault"
	_ "github.com/Chapsvision-dev/dsh-token-fetcher/internal/sink/azure"
)

// Test seams, overridden in unit tests. Keep signatures in sync with packages.
var (
	loadConfig  func(string, *pflag.FlagSet) (config.Config, error)    = config.Load
	openSecrets func(config.Config, []secret.Reference) *secret.Router = secret.OpenRouter
	newClient   func(time.Duration) tokenclient.Client                 = httpClient
	newWriter   func(config.Config) (*sink.Writer, error)              = sink.FromConfig
	stdin       io.Reader                                              = os.Stdin
	exit        func(int)                                              = os.Exit
)

func httpClient(timeout time.Duration) tokenclient.Client {
	return tokenclient.NewHTTPClient(timeout)
}

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks errors caused by the command line rather than the run.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// main wires CLI -> config -> secrets -> engine -> sinks.
// Exit codes: 0 success, 1 runtime error or failed request, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	exit(run(withSignals(context.Background()), os.Args[1:]))
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if !errors.Is(err, errReported) {
		log.Error().Err(err).Msg("command failed")
	}
	return exitFailure
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}
