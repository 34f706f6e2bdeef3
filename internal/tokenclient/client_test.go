package tokenclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

func signedJWT(t *testing.T, exp time.Time, claims map[string]any) string {
	t.Helper()
	b := jwt.NewBuilder().Expiration(exp).IssuedAt(time.Now())
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-signing-key")))
	require.NoError(t, err)
	return string(signed)
}

func kindOf(t *testing.T, err error) failure.Kind {
	t.Helper()
	require.Error(t, err)
	k, ok := failure.KindOf(err)
	require.True(t, ok, "unclassified error: %v", err)
	return k
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.poc.kpn-dsh.com/auth/v0/token", Endpoint(DSHRest, "poc.kpn-dsh.com", ""))
	assert.Equal(t, "https://api.poc.kpn-dsh.com/datastreams/v0/mqtt/token", Endpoint(DSHMQTT, "poc.kpn-dsh.com", ""))
	assert.Equal(t, "http://127.0.0.1:8089/oauth2/token", Endpoint(ClientCredentials, "x", "http://127.0.0.1:8089/"))

	u, err := restEndpointFor("http://host:1/base/datastreams/v0/mqtt/token?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://host:1/base/auth/v0/token", u)

	_, err = restEndpointFor("relative/path")
	assert.Error(t, err)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, DSHRest, m)
	m, err = ParseMethod(" DSH_MQTT ")
	require.NoError(t, err)
	assert.Equal(t, DSHMQTT, m)
	_, err = ParseMethod("password")
	assert.Error(t, err)
}

func TestRESTExchange(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	jwtRaw := signedJWT(t, exp, map[string]any{"tenant-id": "tenant-a"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, pathRESTToken, r.URL.Path)
		assert.Equal(t, "api-key", r.Header.Get("apikey"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "tenant-a", in["tenant"])
		_, _ = io.WriteString(w, jwtRaw+"\n")
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second)
	s := secret.FromString("api-key")
	tok, err := c.Exchange(context.Background(), Request{
		Method:   DSHRest,
		Endpoint: Endpoint(DSHRest, "", srv.URL),
		Tenant:   "tenant-a",
		Secret:   s,
	})
	require.NoError(t, err)
	assert.Equal(t, jwtRaw, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, exp.Equal(tok.ExpiresAt), "exp %v != %v", exp, tok.ExpiresAt)
	assert.Equal(t, []byte("api-key"), s.Bytes(), "client must not destroy a borrowed secret")
}

func TestMQTTExchangeIsOneCall(t *testing.T) {
	restJWT := signedJWT(t, time.Now().Add(time.Hour), nil)
	mqttJWT := signedJWT(t, time.Now().Add(2*time.Hour), map[string]any{"client-id": "generated"})
	var restCalls, mqttCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(pathRESTToken, func(w http.ResponseWriter, r *http.Request) {
		restCalls.Add(1)
		_, _ = io.WriteString(w, restJWT)
	})
	mux.HandleFunc(pathMQTTToken, func(w http.ResponseWriter, r *http.Request) {
		mqttCalls.Add(1)
		assert.Equal(t, "Bearer "+restJWT, r.Header.Get("Authorization"))
		var in struct {
			ID     string          `json:"id"`
			Tenant string          `json:"tenant"`
			Claims json.RawMessage `json:"claims"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "fixed-id", in.ID)
		assert.Equal(t, "tenant-a", in.Tenant)
		assert.JSONEq(t, `[{"action":"subscribe"}]`, string(in.Claims))
		_, _ = io.WriteString(w, mqttJWT)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(time.Second)
	c.NewID = func() string { return "fixed-id" }
	tok, err := c.Exchange(context.Background(), Request{
		Method:   DSHMQTT,
		Endpoint: Endpoint(DSHMQTT, "", srv.URL),
		Tenant:   "tenant-a",
		Secret:   secret.FromString("api-key"),
		Claims:   json.RawMessage(`[{"action":"subscribe"}]`),
	})
	require.NoError(t, err)
	assert.Equal(t, mqttJWT, tok.AccessToken)
	assert.EqualValues(t, 1, restCalls.Load())
	assert.EqualValues(t, 1, mqttCalls.Load())
}

func TestMQTTSendsClientID(t *testing.T) {
	restJWT := signedJWT(t, time.Now().Add(time.Hour), nil)
	cases := []struct {
		name     string
		clientID string
		want     string
	}{
		{name: "explicit", clientID: "svc-1", want: "svc-1"},
		{name: "generated", clientID: "", want: "fixed-id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sent string
			mux := http.NewServeMux()
			mux.HandleFunc(pathRESTToken, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, restJWT)
			})
			mux.HandleFunc(pathMQTTToken, func(w http.ResponseWriter, r *http.Request) {
				var in struct {
					ID string `json:"id"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
				sent = in.ID
				_, _ = io.WriteString(w, signedJWT(t, time.Now().Add(time.Hour), map[string]any{"client-id": in.ID}))
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			c := NewHTTPClient(time.Second)
			c.NewID = func() string { return "fixed-id" }
			_, err := c.Exchange(context.Background(), Request{
				Method:   DSHMQTT,
				Endpoint: Endpoint(DSHMQTT, "", srv.URL),
				Tenant:   "tenant-a",
				ClientID: tc.clientID,
				Secret:   secret.FromString("api-key"),
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, sent)
		})
	}
}

func TestMQTTRejectsInvalidClaims(t *testing.T) {
	restJWT := signedJWT(t, time.Now().Add(time.Hour), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, restJWT)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(time.Second).Exchange(context.Background(), Request{
		Method:   DSHMQTT,
		Endpoint: Endpoint(DSHMQTT, "", srv.URL),
		Tenant:   "t",
		Secret:   secret.FromString("k"),
		Claims:   json.RawMessage(`{not json`),
	})
	assert.Equal(t, failure.MalformedResponse, kindOf(t, err))
}

func TestClientCredentialsExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "read", r.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"opaque","token_type":"bearer","expires_in":120}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	tok, err := c.Exchange(context.Background(), Request{
		Method:   ClientCredentials,
		Endpoint: srv.URL,
		Tenant:   "tenant-a",
		ClientID: "client-1",
		Secret:   secret.FromString("s3cret"),
		Scope:    "read",
	})
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok.AccessToken)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, now.Add(2*time.Minute), tok.ExpiresAt)
}

func TestExpiresIn(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{raw: `120`, want: 120},
		{raw: `"90"`, want: 90},
		{raw: `null`, want: 0},
		{raw: ``, want: 0},
		{raw: `-5`, want: 0},
		{raw: `0`, want: 0},
		{raw: `"NaN"`, want: 0},
		{raw: `"soon"`, want: 0},
		{raw: `1e30`, want: maxExpiresIn},
		{raw: `"+Inf"`, want: maxExpiresIn},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, expiresIn(json.RawMessage(tc.raw)), tc.raw)
	}
}

func TestClientCredentialsHugeExpiresIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"opaque","expires_in":1e30}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	tok, err := c.Exchange(context.Background(), Request{
		Method:   ClientCredentials,
		Endpoint: srv.URL,
		Tenant:   "tenant-a",
		Secret:   secret.FromString("s3cret"),
	})
	require.NoError(t, err)
	assert.True(t, tok.ExpiresAt.After(now))
	assert.Equal(t, now.Add(maxExpiresIn*time.Second), tok.ExpiresAt)
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		want       failure.Kind
		wantHint   time.Duration
	}{
		{name: "bad request", status: 400, want: failure.AuthRejected},
		{name: "unauthorized", status: 401, body: "bad apikey api-key", want: failure.AuthRejected},
		{name: "forbidden", status: 403, want: failure.AuthRejected},
		{name: "request timeout", status: 408, want: failure.Timeout},
		{name: "throttled", status: 429, retryAfter: "2", want: failure.NetworkFailure, wantHint: 2 * time.Second},
		{name: "server error", status: 502, want: failure.NetworkFailure},
		{name: "not found", status: 404, want: failure.MalformedResponse},
		{name: "not a jwt", status: 200, body: "hello", want: failure.MalformedResponse},
		{name: "empty body", status: 200, body: "", want: failure.MalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(time.Second).Exchange(context.Background(), Request{
				Method:   DSHRest,
				Endpoint: Endpoint(DSHRest, "", srv.URL),
				Tenant:   "t",
				Secret:   secret.FromString("api-key"),
			})
			assert.Equal(t, tc.want, kindOf(t, err))
			fe, _ := failure.As(err)
			assert.Equal(t, tc.wantHint, fe.RetryAfter)
			assert.NotContains(t, err.Error(), "api-key")
		})
	}
}

func TestPerCallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewHTTPClient(50*time.Millisecond).Exchange(context.Background(), Request{
		Method:   DSHRest,
		Endpoint: Endpoint(DSHRest, "", srv.URL),
		Tenant:   "t",
		Secret:   secret.FromString("k"),
	})
	assert.Equal(t, failure.Timeout, kindOf(t, err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := Endpoint(DSHRest, "", srv.URL)
	srv.Close()

	_, err := NewHTTPClient(time.Second).Exchange(context.Background(), Request{
		Method:   DSHRest,
		Endpoint: endpoint,
		Tenant:   "t",
		Secret:   secret.FromString("k"),
	})
	assert.Equal(t, failure.NetworkFailure, kindOf(t, err))
}

func TestDestroyedSecretMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	s := secret.FromString("k")
	s.Destroy()
	_, err := NewHTTPClient(time.Second).Exchange(context.Background(), Request{
		Method:   DSHRest,
		Endpoint: Endpoint(DSHRest, "", srv.URL),
		Tenant:   "t",
		Secret:   s,
	})
	assert.Equal(t, failure.SecretNotFound, kindOf(t, err))
	assert.Zero(t, calls.Load())
}
