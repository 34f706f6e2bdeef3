// Package acquire runs a batch of token acquisitions concurrently, retrying
// transient failures per request and keeping results in input order.
package acquire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/retry"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/tokenclient"
)

// Key identifies a request; requests with equal keys share one exchange.
type Key struct {
	Tenant   string
	Platform string
	ClientID string
}

func (k Key) String() string {
	return k.Tenant + "/" + k.Platform + "/" + k.ClientID
}

// Request describes one token to acquire.
type Request struct {
	Tenant   string
	Platform string
	// Endpoint is the token URL; derived from Platform and Method when empty.
	Endpoint string
	// ClientID defaults to Tenant.
	ClientID string
	Secret   secret.Reference
	Scope    string
	// Claims is raw JSON, used by the MQTT method only.
	Claims json.RawMessage
	Method tokenclient.Method
}

// Key returns the identity of r.
func (r Request) Key() Key {
	id := r.ClientID
	if id == "" {
		id = r.Tenant
	}
	return Key{Tenant: r.Tenant, Platform: r.Platform, ClientID: id}
}

// Token is an acquired access token.
type Token struct {
	Key         Key
	AccessToken string
	TokenType   string
	// ExpiresAt is zero when unknown.
	ExpiresAt time.Time
}

// String omits the access token.
func (t Token) String() string {
	return fmt.Sprintf("token[%s %s exp=%s]", t.Key, t.TokenType, t.ExpiresAt.Format(time.RFC3339))
}

// Outcome is the terminal result for one request position.
type Outcome struct {
	Request  Request
	Token    *Token
	Err      *failure.Error
	Attempts int
}

func (o Outcome) OK() bool { return o.Err == nil && o.Token != nil }

// Options tunes an Engine.
type Options struct {
	// Deadline bounds a whole Run; zero means only the caller's context applies.
	Deadline time.Duration
	Retry    retry.Options
	// APIBase replaces "https://api.<platform>" when deriving endpoints.
	APIBase string
}

// Summary aggregates outcomes.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	ByKind    map[failure.Kind]int
}

// Summarize counts successes and failures by kind.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes), ByKind: map[failure.Kind]int{}}
	for _, o := range outcomes {
		if o.OK() {
			s.Succeeded++
			continue
		}
		s.Failed++
		if o.Err != nil {
			s.ByKind[o.Err.Kind]++
		}
	}
	return s
}
