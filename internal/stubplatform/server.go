// Package stubplatform emulates the platform token endpoints for dry runs and tests.
package stubplatform

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog/log"
)

const (
	restTokenEndpoint  = "/auth/v0/token"
	mqttTokenEndpoint  = "/datastreams/v0/mqtt/token"
	oauthTokenEndpoint = "/oauth2/token"
	livenessEndpoint   = "/livez"
)

// Options configures the stub.
type Options struct {
	// APIKeys maps tenant -> accepted api key.
	APIKeys map[string]string
	// Clients maps OAuth2 client id -> client secret.
	Clients    map[string]string
	SigningKey []byte
	TokenTTL   time.Duration
	// MQTTEndpoint is advertised in MQTT tokens.
	MQTTEndpoint string
	// Unavailable answers the first N token requests with 503.
	Unavailable int
	Now         func() time.Time
}

// Server is a fiber app serving the stub endpoints.
type Server struct {
	app     *fiber.App
	opts    Options
	pending atomic.Int64
	served  atomic.Int64
}

func New(opts Options) *Server {
	if len(opts.SigningKey) == 0 {
		opts.SigningKey = []byte("stub-signing-key")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.MQTTEndpoint == "" {
		opts.MQTTEndpoint = "mqtt.stub.local"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "tokenfetch stub platform",
			DisableStartupMessage: true,
		}),
		opts: opts,
	}
	s.pending.Store(int64(opts.Unavailable))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(requestLogger)
	s.app.Get(livenessEndpoint, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	s.app.Post(restTokenEndpoint, s.throttle, s.restToken)
	s.app.Post(mqttTokenEndpoint, s.throttle, s.mqttToken)
	s.app.Post(oauthTokenEndpoint, s.throttle, s.oauthToken)
}

// App exposes the fiber app (tests use App().Test).
func (s *Server) App() *fiber.App { return s.app }

// Served returns the number of tokens issued.
func (s *Server) Served() int64 { return s.served.Load() }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Serve(ln net.Listener) error { return s.app.Listener(ln) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	log.Debug().Str("action", "stub_request").Str("method", c.Method()).Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).Dur("elapsed_ms", time.Since(start)).Msg("served")
	return err
}

func (s *Server) throttle(c *fiber.Ctx) error {
	if s.pending.Add(-1) >= 0 {
		c.Set(fiber.HeaderRetryAfter, "0")
		return c.Status(fiber.StatusServiceUnavailable).SendString("temporarily unavailable")
	}
	return c.Next()
}

func (s *Server) sign(claims map[string]any) (string, error) {
	now := s.opts.Now()
	b := jwt.NewBuilder().
		Issuer("0").
		IssuedAt(now).
		Expiration(now.Add(s.opts.TokenTTL))
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.opts.SigningKey))
	if err != nil {
		return "", err
	}
	s.served.Add(1)
	return string(signed), nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) restToken(c *fiber.Ctx) error {
	var body struct {
		Tenant string `json:"tenant"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil || body.Tenant == "" {
		return c.Status(fiber.StatusBadRequest).SendString("tenant is required")
	}
	want, ok := s.opts.APIKeys[body.Tenant]
	if !ok || !equal(want, c.Get("apikey")) {
		return c.Status(fiber.StatusUnauthorized).SendString("invalid api key")
	}
	raw, err := s.sign(map[string]any{"tenant-id": body.Tenant, "gen": 1})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusOK).SendString(raw)
}

func (s *Server) mqttToken(c *fiber.Ctx) error {
	bearer := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	rest, err := jwt.Parse([]byte(bearer), jwt.WithKey(jwa.HS256, s.opts.SigningKey))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).SendString("invalid rest token")
	}
	tenantClaim, _ := rest.Get("tenant-id")

	var body struct {
		ID     string          `json:"id"`
		Tenant string          `json:"tenant"`
		Claims json.RawMessage `json:"claims"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil || body.ID == "" {
		return c.Status(fiber.StatusBadRequest).SendString("id and tenant are required")
	}
	if t, _ := tenantClaim.(string); t != body.Tenant {
		return c.Status(fiber.StatusForbidden).SendString("tenant mismatch")
	}

	claims := map[string]any{
		"tenant-id": body.Tenant,
		"client-id": body.ID,
		"endpoint":  s.opts.MQTTEndpoint,
		"ports":     map[string][]int{"mqtts": {8883}, "mqttwss": {443, 8443}},
		"gen":       1,
	}
	if len(body.Claims) > 0 && string(body.Claims) != "null" {
		var v any
		if err := json.Unmarshal(body.Claims, &v); err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("invalid claims")
		}
		claims["claims"] = v
	}
	raw, err := s.sign(claims)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusOK).SendString(raw)
}

type oauthRequest struct {
	GrantType    string `form:"grant_type"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
	Scope        string `form:"scope"`
}

func (s *Server) oauthToken(c *fiber.Ctx) error {
	var req oauthRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	if req.GrantType != "client_credentials" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported_grant_type"})
	}
	want, ok := s.opts.Clients[req.ClientID]
	if !ok || !equal(want, req.ClientSecret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_client"})
	}
	claims := map[string]any{"client-id": req.ClientID}
	if req.Scope != "" {
		claims["scope"] = req.Scope
	}
	raw, err := s.sign(claims)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"access_token": raw,
		"token_type":   "Bearer",
		"expires_in":   int(s.opts.TokenTTL / time.Second),
	})
}

// ParseAddr validates a listen address.
func ParseAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", errors.New("invalid port: " + port)
	}
	return net.JoinHostPort(host, port), nil
}
