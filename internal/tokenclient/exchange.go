package tokenclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
)

const maxBody = 64 << 10

// maxExpiresIn caps server supplied lifetimes so the expiry stays representable.
const maxExpiresIn = 10 * 365 * 24 * 60 * 60

func newUUID() string { return uuid.NewString() }

// Exchange performs one attempt. DSHMQTT counts its two round trips as one.
func (c *HTTPClient) Exchange(ctx context.Context, req Request) (Token, error) {
	key := req.Secret.Bytes()
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()
	if len(key) == 0 {
		return Token{}, failure.Newf(failure.SecretNotFound, "credential for %s is not available", req.Tenant)
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		return Token{}, malformed("no endpoint for method %s", req.Method)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		tok Token
		err error
	)
	switch req.Method {
	case ClientCredentials:
		tok, err = c.clientCredentials(ctx, req, key)
	case DSHMQTT:
		tok, err = c.mqtt(ctx, req, key)
	case DSHRest, "":
		tok, err = c.rest(ctx, req.Endpoint, req.Tenant, key)
	default:
		err = malformed("unsupported method %q", req.Method)
	}
	if err != nil {
		log.Debug().Err(err).Str("action", "token_exchange").Str("method", string(req.Method)).
			Str("tenant", req.Tenant).Dur("elapsed_ms", time.Since(start)).Msg("exchange failed")
		return Token{}, err
	}
	log.Debug().Str("action", "token_exchange").Str("method", string(req.Method)).
		Str("tenant", req.Tenant).Dur("elapsed_ms", time.Since(start)).Msg("exchange OK")
	return tok, nil
}

// do sends req and returns the 200 body, classifying everything else.
func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, classifyTransport(err)
	}
	return body, nil
}

// rest posts {"tenant"} with the apikey header; the body is the raw JWT.
func (c *HTTPClient) rest(ctx context.Context, endpoint, tenant string, apiKey []byte) (Token, error) {
	payload, err := json.Marshal(map[string]string{"tenant": tenant})
	if err != nil {
		return Token{}, err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Token{}, malformed("build request: %v", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("apikey", string(apiKey))

	body, err := c.do(hr)
	if err != nil {
		return Token{}, err
	}
	return jwtToken(body)
}

// mqtt fetches a REST token, then trades it for an MQTT token.
func (c *HTTPClient) mqtt(ctx context.Context, req Request, apiKey []byte) (Token, error) {
	restURL, err := restEndpointFor(req.Endpoint)
	if err != nil {
		return Token{}, malformed("mqtt endpoint: %v", err)
	}
	rest, err := c.rest(ctx, restURL, req.Tenant, apiKey)
	if err != nil {
		return Token{}, err
	}

	claims := json.RawMessage("null")
	if len(bytes.TrimSpace(req.Claims)) > 0 {
		if !json.Valid(req.Claims) {
			return Token{}, malformed("claims are not valid JSON")
		}
		claims = req.Claims
	}
	id := req.ClientID
	if id == "" {
		id = c.NewID()
	}
	payload, err := json.Marshal(struct {
		ID     string          `json:"id"`
		Tenant string          `json:"tenant"`
		Claims json.RawMessage `json:"claims"`
	}{ID: id, Tenant: req.Tenant, Claims: claims})
	if err != nil {
		return Token{}, err
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Token{}, malformed("build request: %v", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Authorization", "Bearer "+rest.AccessToken)

	body, err := c.do(hr)
	if err != nil {
		return Token{}, err
	}
	return jwtToken(body)
}

func (c *HTTPClient) clientCredentials(ctx context.Context, req Request, clientSecret []byte) (Token, error) {
	clientID := req.ClientID
	if clientID == "" {
		clientID = req.Tenant
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", string(clientSecret))
	if req.Scope != "" {
		form.Set("scope", req.Scope)
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, malformed("build request: %v", err)
	}
	hr.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hr.Header.Set("Accept", "application/json")

	body, err := c.do(hr)
	if err != nil {
		return Token{}, err
	}

	var out struct {
		AccessToken string          `json:"access_token"`
		TokenType   string          `json:"token_type"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Token{}, malformed("decode token response: %v", err)
	}
	if out.AccessToken == "" {
		return Token{}, malformed("empty access_token")
	}
	tok := Token{AccessToken: out.AccessToken, TokenType: out.TokenType}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if secs := expiresIn(out.ExpiresIn); secs > 0 {
		tok.ExpiresAt = c.now().Add(time.Duration(secs) * time.Second).UTC()
	} else if exp, err := jwtExpiry([]byte(out.AccessToken)); err == nil {
		tok.ExpiresAt = exp
	}
	return tok, nil
}

// expiresIn accepts both numbers and numeric strings. Non-positive and
// non-finite values read as absent; larger values are capped at maxExpiresIn.
func expiresIn(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || n <= 0 {
		return 0
	}
	if n > maxExpiresIn {
		return maxExpiresIn
	}
	return int64(n)
}

// jwtToken validates a raw JWT body and reads its expiry.
func jwtToken(body []byte) (Token, error) {
	raw := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if raw == "" {
		return Token{}, malformed("empty token")
	}
	exp, err := jwtExpiry([]byte(raw))
	if err != nil {
		return Token{}, malformed("token is not a JWT: %v", err)
	}
	return Token{AccessToken: raw, TokenType: "Bearer", ExpiresAt: exp}, nil
}

// jwtExpiry decodes the exp claim without verifying the signature.
func jwtExpiry(raw []byte) (time.Time, error) {
	t, err := jwt.ParseInsecure(raw)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, errors.New("empty token")
	}
	return t.Expiration().UTC(), nil
}
