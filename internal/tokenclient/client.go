// Package tokenclient performs single token exchanges against the platform.
// It never retries; callers decide based on the failure kind.
package tokenclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

// Method selects the exchange protocol.
type Method string

const (
	// ClientCredentials is a standard OAuth2 client_credentials grant.
	ClientCredentials Method = "client_credentials"
	// DSHRest exchanges a tenant API key for a REST token.
	DSHRest Method = "dsh_rest"
	// DSHMQTT exchanges a REST token for an MQTT token (two round trips).
	DSHMQTT Method = "dsh_mqtt"
)

const (
	pathRESTToken  = "/auth/v0/token"
	pathMQTTToken  = "/datastreams/v0/mqtt/token"
	pathOAuthToken = "/oauth2/token"
)

// ParseMethod accepts the method names above; empty means DSHRest.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return DSHRest, nil
	case ClientCredentials, DSHRest, DSHMQTT:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported token method: %q", s)
	}
}

// Request is one exchange. Secret is borrowed; the client never destroys it.
type Request struct {
	Method   Method
	Endpoint string
	Tenant   string
	ClientID string
	Secret   *secret.Secret
	Scope    string
	// Claims is raw JSON sent with MQTT token requests.
	Claims json.RawMessage
}

// Token is a successful exchange result.
type Token struct {
	AccessToken string
	TokenType   string
	// ExpiresAt is zero when the server did not say.
	ExpiresAt time.Time
}

// Client exchanges credentials for a token.
//
// Failures carry AuthRejected, NetworkFailure, Timeout or MalformedResponse.
// One extra kind guards the borrowed credential: when Request.Secret is empty
// or already destroyed, Exchange returns SecretNotFound and sends nothing.
type Client interface {
	Exchange(ctx context.Context, req Request) (Token, error)
}

// Endpoint derives the token URL for method. base overrides
// "https://api.<platform>" (stub platforms, tests).
func Endpoint(method Method, platform, base string) string {
	if strings.TrimSpace(base) == "" {
		base = "https://api." + platform
	}
	base = strings.TrimRight(base, "/")
	switch method {
	case DSHMQTT:
		return base + pathMQTTToken
	case ClientCredentials:
		return base + pathOAuthToken
	default:
		return base + pathRESTToken
	}
}

// restEndpointFor returns the REST token URL on the same host as an MQTT endpoint.
func restEndpointFor(mqttEndpoint string) (string, error) {
	u, err := url.Parse(mqttEndpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not absolute", mqttEndpoint)
	}
	prefix := strings.TrimSuffix(u.Path, pathMQTTToken)
	u.Path = strings.TrimRight(prefix, "/") + pathRESTToken
	u.RawQuery = ""
	return u.String(), nil
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	HTTP *http.Client
	// Timeout bounds a single Exchange call (both round trips for DSHMQTT).
	Timeout time.Duration
	// NewID generates MQTT request ids.
	NewID func() string
	now   func() time.Time
}

// NewHTTPClient returns a client with a per-call timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		HTTP:    &http.Client{},
		Timeout: timeout,
		NewID:   newUUID,
		now:     time.Now,
	}
}
