package acquire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/tokenclient"
)

// newClientID names each copy of a repeated request.
var newClientID = uuid.NewString

// RequestsFromConfig converts the configured batch, in order. Entries with
// an amount are expanded in place.
func RequestsFromConfig(cfg config.Config) ([]Request, error) {
	out := make([]Request, 0, len(cfg.Requests))
	for i, rc := range cfg.Requests {
		rs, err := ExpandRequest(cfg.Platform, rc)
		if err != nil {
			return nil, fmt.Errorf("requests[%d]: %w", i, err)
		}
		out = append(out, rs...)
	}
	if err := CheckBatch(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExpandRequest converts one entry into rc.Amount requests. Copies use
// dsh_mqtt and each gets its own client id: "<client_id>-<n>" when one is
// configured, a random UUID otherwise.
func ExpandRequest(platform string, rc config.RequestConfig) ([]Request, error) {
	switch {
	case rc.Amount < 0:
		return nil, fmt.Errorf("amount must be >= 0")
	case rc.Amount <= 1:
		r, err := RequestFromConfig(platform, rc)
		if err != nil {
			return nil, err
		}
		return []Request{r}, nil
	}

	if strings.TrimSpace(rc.Method) == "" {
		rc.Method = string(tokenclient.DSHMQTT)
	}
	base, err := RequestFromConfig(platform, rc)
	if err != nil {
		return nil, err
	}
	if base.Method != tokenclient.DSHMQTT {
		return nil, fmt.Errorf("amount %d requires method %s, got %s", rc.Amount, tokenclient.DSHMQTT, base.Method)
	}

	out := make([]Request, rc.Amount)
	for i := range out {
		r := base
		if base.ClientID != "" {
			r.ClientID = fmt.Sprintf("%s-%d", base.ClientID, i+1)
		} else {
			r.ClientID = newClientID()
		}
		out[i] = r
	}
	return out, nil
}

// CheckBatch rejects requests that share a key but would not exchange the
// same way. Exact duplicates are fine; they collapse to one exchange.
func CheckBatch(reqs []Request) error {
	first := make(map[Key]int, len(reqs))
	for i, r := range reqs {
		k := r.Key()
		j, ok := first[k]
		if !ok {
			first[k] = i
			continue
		}
		if field := conflict(reqs[j], r); field != "" {
			return fmt.Errorf("requests %d and %d share tenant %q, platform %q and client id %q but differ in %s",
				j, i, k.Tenant, k.Platform, k.ClientID, field)
		}
	}
	return nil
}

func conflict(a, b Request) string {
	switch {
	case methodOf(a) != methodOf(b):
		return "method"
	case a.Endpoint != b.Endpoint:
		return "endpoint"
	case a.Scope != b.Scope:
		return "scope"
	case !bytes.Equal(bytes.TrimSpace(a.Claims), bytes.TrimSpace(b.Claims)):
		return "claims"
	case a.Secret != b.Secret:
		return "secret"
	}
	return ""
}

func methodOf(r Request) tokenclient.Method {
	if r.Method == "" {
		return tokenclient.DSHRest
	}
	return r.Method
}

// RequestFromConfig converts one entry; platform is used when rc sets none.
func RequestFromConfig(platform string, rc config.RequestConfig) (Request, error) {
	tenant := strings.TrimSpace(rc.Tenant)
	if tenant == "" {
		return Request{}, fmt.Errorf("tenant is required")
	}
	ref, err := secret.ParseReference(rc.Secret)
	if err != nil {
		return Request{}, fmt.Errorf("secret: %w", err)
	}
	method, err := tokenclient.ParseMethod(rc.Method)
	if err != nil {
		return Request{}, err
	}
	if p := strings.TrimSpace(rc.Platform); p != "" {
		platform = p
	}
	if platform == "" {
		platform = config.DefaultPlatform
	}

	var claims json.RawMessage
	if c := strings.TrimSpace(rc.Claims); c != "" {
		if !json.Valid([]byte(c)) {
			return Request{}, fmt.Errorf("claims: invalid JSON")
		}
		claims = json.RawMessage(c)
	}

	return Request{
		Tenant:   tenant,
		Platform: platform,
		Endpoint: strings.TrimSpace(rc.Endpoint),
		ClientID: strings.TrimSpace(rc.ClientID),
		Secret:   ref,
		Scope:    rc.Scope,
		Claims:   claims,
		Method:   method,
	}, nil
}
