package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/retry"
)

// EnvPrefix namespaces environment overrides, e.g. TOKENFETCH_ENGINE__MAX_CONCURRENCY.
const EnvPrefix = "TOKENFETCH_"

// DefaultPlatform is the platform domain used when none is configured.
const DefaultPlatform = "poc.kpn-dsh.com"

type Config struct {
	// Platform is the default platform domain for requests that do not set one.
	Platform string `koanf:"platform" yaml:"platform"`
	// APIBase replaces "https://api.<platform>" when deriving endpoints (stub runs).
	APIBase string `koanf:"api_base" yaml:"api_base"`

	Engine  EngineConfig  `koanf:"engine" yaml:"engine"`
	Retry   RetryConfig   `koanf:"retry" yaml:"retry"`
	Secrets SecretsConfig `koanf:"secrets" yaml:"secrets"`
	Sinks   SinksConfig   `koanf:"sinks" yaml:"sinks"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
	Stub    StubConfig    `koanf:"stub" yaml:"stub"`

	// Requests is the batch to acquire.
	Requests []RequestConfig `koanf:"requests" yaml:"requests"`
}

type EngineConfig struct {
	MaxConcurrency int           `koanf:"max_concurrency" yaml:"max_concurrency"`
	Deadline       time.Duration `koanf:"deadline" yaml:"deadline"` // whole batch, 0 = none
	Timeout        time.Duration `koanf:"timeout" yaml:"timeout"`   // per exchange call
}

type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `koanf:"multiplier" yaml:"multiplier"`
	Jitter       bool          `koanf:"jitter" yaml:"jitter"`
}

type SecretsConfig struct {
	// Backend is the default store: keyring|encrypted|vault|mock.
	Backend   string          `koanf:"backend" yaml:"backend"`
	Keyring   KeyringConfig   `koanf:"keyring" yaml:"keyring"`
	Encrypted EncryptedConfig `koanf:"encrypted" yaml:"encrypted"`
	Vault     VaultConfig     `koanf:"vault" yaml:"vault"`
	Mock      MockConfig      `koanf:"mock" yaml:"mock"`
}

type KeyringConfig struct {
	Service string `koanf:"service" yaml:"service"`
}

type EncryptedConfig struct {
	Path string `koanf:"path" yaml:"path"`
	// PassphraseEnv names the env var holding the store passphrase.
	PassphraseEnv string `koanf:"passphrase_env" yaml:"passphrase_env"`
}

type VaultConfig struct {
	Address   string          `koanf:"address" yaml:"address"`
	Token     string          `koanf:"token" yaml:"token"`
	Namespace string          `koanf:"namespace" yaml:"namespace"`
	Mount     string          `koanf:"mount" yaml:"mount"`
	Field     string          `koanf:"field" yaml:"field"`
	Timeout   time.Duration   `koanf:"timeout" yaml:"timeout"`
	Auth      VaultAuthConfig `koanf:"auth" yaml:"auth"`
}

// VaultAuthConfig selects how the vault backend obtains its token.
type VaultAuthConfig struct {
	Method   string `koanf:"method" yaml:"method"` // token|kubernetes
	Mount    string `koanf:"mount" yaml:"mount"`
	Role     string `koanf:"role" yaml:"role"`
	JWTPath  string `koanf:"jwt_path" yaml:"jwt_path"`
	Audience string `koanf:"audience" yaml:"audience"`
}

type MockConfig struct {
	Values map[string]string `koanf:"values" yaml:"values"`
}

type SinksConfig struct {
	Stdout bool       `koanf:"stdout" yaml:"stdout"`
	Format string     `koanf:"format" yaml:"format"` // raw|json
	File   FileConfig `koanf:"file" yaml:"file"`
	Blob   BlobConfig `koanf:"blob" yaml:"blob"`
}

type FileConfig struct {
	Path string `koanf:"path" yaml:"path"`
	Mode string `koanf:"mode" yaml:"mode"` // overwrite|append
}

type BlobConfig struct {
	Enabled   bool   `koanf:"enabled" yaml:"enabled"`
	Endpoint  string `koanf:"endpoint" yaml:"endpoint"`
	Account   string `koanf:"account" yaml:"account"`
	Container string `koanf:"container" yaml:"container"`
	Prefix    string `koanf:"prefix" yaml:"prefix"`
	SASToken  string `koanf:"sas_token" yaml:"sas_token"`

	ClientID     string `koanf:"client_id" yaml:"client_id"`
	ClientSecret string `koanf:"client_secret" yaml:"client_secret"`
	TenantID     string `koanf:"tenant_id" yaml:"tenant_id"`
}

type MetricsConfig struct {
	// File, when set, receives a Prometheus textfile after each run.
	File string `koanf:"file" yaml:"file"`
}

type StubConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
	// APIKeys maps tenant -> api key accepted by the REST endpoint.
	APIKeys map[string]string `koanf:"api_keys" yaml:"api_keys"`
	// Clients maps client id -> client secret for the OAuth2 endpoint.
	Clients    map[string]string `koanf:"clients" yaml:"clients"`
	SigningKey string            `koanf:"signing_key" yaml:"signing_key"`
	TokenTTL   time.Duration     `koanf:"token_ttl" yaml:"token_ttl"`
	// MQTTEndpoint is advertised in issued MQTT tokens.
	MQTTEndpoint string `koanf:"mqtt_endpoint" yaml:"mqtt_endpoint"`
	// Unavailable answers the first N token requests with 503.
	Unavailable int `koanf:"unavailable" yaml:"unavailable"`
}

// RequestConfig describes one token to acquire.
type RequestConfig struct {
	Tenant   string `koanf:"tenant" yaml:"tenant"`
	Platform string `koanf:"platform" yaml:"platform"`
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`
	ClientID string `koanf:"client_id" yaml:"client_id"`
	// Secret is a reference, "backend:name" or "name".
	Secret string `koanf:"secret" yaml:"secret"`
	Scope  string `koanf:"scope" yaml:"scope"`
	Claims string `koanf:"claims" yaml:"claims"`
	Method string `koanf:"method" yaml:"method"`
	// Amount > 1 fetches that many dsh_mqtt tokens, each under its own client id.
	Amount int `koanf:"amount" yaml:"amount"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Platform: DefaultPlatform,
		Engine: EngineConfig{
			MaxConcurrency: 4,
			Timeout:        15 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:  retry.Default.MaxAttempts,
			InitialDelay: retry.Default.InitialDelay,
			MaxDelay:     retry.Default.MaxDelay,
			Multiplier:   retry.Default.Multiplier,
			Jitter:       retry.Default.Jitter,
		},
		Secrets: SecretsConfig{
			Backend:   "keyring",
			Keyring:   KeyringConfig{Service: "dsh"},
			Encrypted: EncryptedConfig{Path: "secrets.db", PassphraseEnv: "TOKENFETCH_PASSPHRASE"},
			Vault: VaultConfig{
				Mount:   "secret",
				Field:   "value",
				Timeout: 10 * time.Second,
				Auth: VaultAuthConfig{
					Method:  "token",
					Mount:   "kubernetes",
					JWTPath: "/var/run/secrets/kubernetes.io/serviceaccount/token",
				},
			},
		},
		Sinks: SinksConfig{
			Stdout: true,
			Format: "raw",
			File:   FileConfig{Mode: "overwrite"},
			Blob:   BlobConfig{Prefix: "tokens"},
		},
		Stub: StubConfig{
			Addr:     "127.0.0.1:8089",
			TokenTTL: time.Hour,
		},
	}
}

// flagKeys maps CLI flag names to config paths. Only changed flags are applied.
var flagKeys = map[string]string{
	"platform":       "platform",
	"api-base":       "api_base",
	"concurrency":    "engine.max_concurrency",
	"deadline":       "engine.deadline",
	"timeout":        "engine.timeout",
	"retries":        "retry.max_attempts",
	"secret-backend": "secrets.backend",
	"stdout":         "sinks.stdout",
	"format":         "sinks.format",
	"output":         "sinks.file.path",
	"output-mode":    "sinks.file.mode",
	"blob":           "sinks.blob.enabled",
	"blob-prefix":    "sinks.blob.prefix",
	"metrics-file":   "metrics.file",
	"stub-addr":      "stub.addr",
}

// Load layers defaults < config file < TOKENFETCH_* env < changed flags,
// then validates. path and flags may be empty/nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if strings.TrimSpace(path) != "" {
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("load config file %q: %w", path, err)
		}
	}

	// TOKENFETCH_SINKS__FILE__PATH -> sinks.file.path
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .json or .toml)", filepath.Ext(path))
	}
}

// validate checks cross-field requirements.
func (c *Config) validate() error {
	if c.Engine.MaxConcurrency < 1 {
		return errors.New("engine.max_concurrency must be >= 1")
	}
	if c.Engine.Timeout <= 0 {
		return errors.New("engine.timeout must be > 0")
	}
	if c.Engine.Deadline < 0 {
		return errors.New("engine.deadline must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}

	switch c.Secrets.Backend {
	case "keyring", "mock", "vault", "encrypted":
	default:
		return errors.New("unsupported secret backend: " + c.Secrets.Backend)
	}

	switch c.Sinks.Format {
	case "raw", "json":
	default:
		return errors.New("unsupported sink format: " + c.Sinks.Format)
	}
	switch c.Sinks.File.Mode {
	case "overwrite", "append":
	default:
		return errors.New("unsupported file sink mode: " + c.Sinks.File.Mode)
	}
	if c.Sinks.Blob.Enabled && (c.Sinks.Blob.Account == "" && c.Sinks.Blob.Endpoint == "" || c.Sinks.Blob.Container == "") {
		return errors.New("blob sink: account (or endpoint) and container are required")
	}

	for i, r := range c.Requests {
		if strings.TrimSpace(r.Tenant) == "" {
			return fmt.Errorf("requests[%d]: tenant is required", i)
		}
		if strings.TrimSpace(r.Secret) == "" {
			return fmt.Errorf("requests[%d]: secret is required", i)
		}
		if r.Amount < 0 {
			return fmt.Errorf("requests[%d]: amount must be >= 0", i)
		}
	}
	return nil
}

// RetryOptions converts retry-related config values to retry.Options.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		Jitter:       c.Retry.Jitter,
	}
}

// Passphrase reads the encrypted store passphrase from its env var.
func (c EncryptedConfig) Passphrase() (string, error) {
	name := strings.TrimSpace(c.PassphraseEnv)
	if name == "" {
		return "", errors.New("encrypted store: passphrase_env is empty")
	}
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("encrypted store: %s is not set", name)
	}
	return v, nil
}
