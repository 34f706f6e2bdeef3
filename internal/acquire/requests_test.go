package acquire

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/tokenclient"
)

func TestRequestsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Platform = "dev.example.com"
	cfg.Requests = []config.RequestConfig{
		{Tenant: "a", Secret: "mock:key-a", Method: "dsh_mqtt", Claims: `[{"action":"subscribe"}]`},
		{Tenant: "b", Platform: "prod.example.com", Secret: "key-b", ClientID: "svc", Method: "client_credentials", Scope: "read"},
	}

	reqs, err := RequestsFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, "dev.example.com", reqs[0].Platform)
	assert.Equal(t, secret.Reference{Name: "key-a", Backend: "mock"}, reqs[0].Secret)
	assert.Equal(t, tokenclient.DSHMQTT, reqs[0].Method)
	assert.JSONEq(t, `[{"action":"subscribe"}]`, string(reqs[0].Claims))

	assert.Equal(t, "prod.example.com", reqs[1].Platform)
	assert.Equal(t, secret.Reference{Name: "key-b"}, reqs[1].Secret)
	assert.Equal(t, tokenclient.ClientCredentials, reqs[1].Method)
	assert.Equal(t, Key{Tenant: "b", Platform: "prod.example.com", ClientID: "svc"}, reqs[1].Key())
	assert.Nil(t, reqs[1].Claims)
}

func TestRequestFromConfigErrors(t *testing.T) {
	cases := map[string]config.RequestConfig{
		"tenant": {Secret: "x"},
		"secret": {Tenant: "t"},
		"method": {Tenant: "t", Secret: "x", Method: "password"},
		"claims": {Tenant: "t", Secret: "x", Claims: "{nope"},
	}
	for name, rc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := RequestFromConfig("p", rc)
			assert.Error(t, err)
		})
	}

	cfg := config.Defaults()
	cfg.Requests = []config.RequestConfig{{Tenant: "ok", Secret: "x"}, {Tenant: "bad"}}
	_, err := RequestsFromConfig(cfg)
	assert.ErrorContains(t, err, "requests[1]")
}

func TestRequestFromConfigDefaults(t *testing.T) {
	r, err := RequestFromConfig("", config.RequestConfig{Tenant: " t ", Secret: "s"})
	require.NoError(t, err)
	assert.Equal(t, "t", r.Tenant)
	assert.Equal(t, config.DefaultPlatform, r.Platform)
	assert.Equal(t, tokenclient.DSHRest, r.Method)
	assert.Equal(t, "t", r.Key().ClientID)
}

func TestExpandRequestAmount(t *testing.T) {
	n := 0
	newClientID = func() string { n++; return fmt.Sprintf("gen-%d", n) }
	t.Cleanup(func() { newClientID = uuid.NewString })

	rs, err := ExpandRequest("p", config.RequestConfig{Tenant: "t", Secret: "s", Amount: 3})
	require.NoError(t, err)
	require.Len(t, rs, 3)
	for i, r := range rs {
		assert.Equal(t, tokenclient.DSHMQTT, r.Method)
		assert.Equal(t, fmt.Sprintf("gen-%d", i+1), r.ClientID)
	}

	rs, err = ExpandRequest("p", config.RequestConfig{Tenant: "t", Secret: "s", ClientID: "svc", Method: "dsh_mqtt", Amount: 2})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "svc-1", rs[0].ClientID)
	assert.Equal(t, "svc-2", rs[1].ClientID)

	for _, amount := range []int{0, 1} {
		rs, err = ExpandRequest("p", config.RequestConfig{Tenant: "t", Secret: "s", Amount: amount})
		require.NoError(t, err)
		require.Len(t, rs, 1)
		assert.Equal(t, tokenclient.DSHRest, rs[0].Method)
		assert.Empty(t, rs[0].ClientID)
	}

	_, err = ExpandRequest("p", config.RequestConfig{Tenant: "t", Secret: "s", Method: "client_credentials", Amount: 2})
	assert.ErrorContains(t, err, "requires method dsh_mqtt")
	_, err = ExpandRequest("p", config.RequestConfig{Tenant: "t", Secret: "s", Amount: -1})
	assert.Error(t, err)
}

func TestAmountYieldsDistinctTokensInOrder(t *testing.T) {
	cfg := config.Defaults()
	cfg.Requests = []config.RequestConfig{
		{Tenant: "a", Secret: "a"},
		{Tenant: "m", Secret: "m", Amount: 4},
		{Tenant: "b", Secret: "b"},
	}
	reqs, err := RequestsFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, reqs, 6)

	client := &fakeClient{fn: func(_ context.Context, r tokenclient.Request, _ int) (tokenclient.Token, error) {
		return tokenclient.Token{AccessToken: r.Tenant + "/" + r.ClientID}, nil
	}}
	out := New(newStore("a", "m", "b"), client, Options{Retry: fastRetry}).Run(context.Background(), reqs, 3)
	require.Len(t, out, 6)
	assert.Equal(t, 6, client.total())

	seen := map[string]bool{}
	for i, o := range out {
		require.True(t, o.OK(), "position %d: %v", i, o.Err)
		assert.Equal(t, reqs[i].Tenant, o.Token.Key.Tenant)
		assert.Equal(t, reqs[i].Key(), o.Token.Key)
		assert.Equal(t, o.Request.Tenant+"/"+o.Token.Key.ClientID, o.Token.AccessToken)
		assert.False(t, seen[o.Token.AccessToken], "duplicate token at %d", i)
		seen[o.Token.AccessToken] = true
	}
	assert.Equal(t, "a", out[0].Request.Tenant)
	assert.Equal(t, "b", out[5].Request.Tenant)
	for _, o := range out[1:5] {
		assert.Equal(t, tokenclient.DSHMQTT, o.Request.Method)
	}
}

func TestCheckBatch(t *testing.T) {
	rest := req("a")
	mqtt := req("a")
	mqtt.Method = tokenclient.DSHMQTT

	err := CheckBatch([]Request{rest, req("b"), mqtt})
	assert.ErrorContains(t, err, "requests 0 and 2")
	assert.ErrorContains(t, err, "method")

	scoped := req("a")
	scoped.Scope = "read"
	assert.ErrorContains(t, CheckBatch([]Request{rest, scoped}), "scope")

	claimed := mqtt
	claimed.Claims = []byte(`[{"action":"publish"}]`)
	assert.ErrorContains(t, CheckBatch([]Request{mqtt, claimed}), "claims")

	// Same tenant under distinct client ids is not a conflict.
	other := mqtt
	other.ClientID = "svc"
	assert.NoError(t, CheckBatch([]Request{rest, other}))

	// Exact duplicates, and an explicit method equal to the default, collapse.
	explicit := req("a")
	explicit.Method = tokenclient.DSHRest
	assert.NoError(t, CheckBatch([]Request{rest, req("a"), explicit}))
}

func TestRequestsFromConfigRejectsMixedMethods(t *testing.T) {
	cfg := config.Defaults()
	cfg.Requests = []config.RequestConfig{
		{Tenant: "a", Secret: "a", Method: "dsh_rest"},
		{Tenant: "a", Secret: "a", Method: "dsh_mqtt"},
	}
	_, err := RequestsFromConfig(cfg)
	assert.ErrorContains(t, err, "differ in method")
}
