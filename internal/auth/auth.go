// Package auth validates inbound bearer credentials: either the static
// proxy API key (constant-time compared) or, when configured, a signed
// JWT accepted as an alternative.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingCredentials is returned when no Authorization header is present.
	ErrMissingCredentials = errors.New("auth: missing credentials")
	// ErrInvalidCredentials is returned when neither the proxy key nor a JWT validates.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Config configures a Service.
type Config struct {
	ProxyAPIKey string
	JWTSecret   string
	JWTIssuer   string
}

// Service validates the bearer token presented at ingress.
type Service struct {
	proxyKey  string
	jwtSecret []byte
	jwtIssuer string
}

// NewService builds a Service from Config.
func NewService(cfg Config) *Service {
	return &Service{
		proxyKey:  cfg.ProxyAPIKey,
		jwtSecret: []byte(cfg.JWTSecret),
		jwtIssuer: cfg.JWTIssuer,
	}
}

// Authenticate validates a bearer token against the proxy API key first,
// falling back to JWT validation when a secret is configured.
func (s *Service) Authenticate(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingCredentials
	}
	if s.proxyKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.proxyKey)) == 1 {
		return nil
	}
	if len(s.jwtSecret) > 0 {
		if err := s.validateJWT(token); err == nil {
			return nil
		}
	}
	return ErrInvalidCredentials
}

func (s *Service) validateJWT(token string) error {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(s.jwtIssuer), jwt.WithLeeway(5*time.Second))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return ErrInvalidCredentials
	}
	return nil
}

// ExtractBearer pulls the bearer token out of an Authorization header value.
// Returns "" if the header is absent or not a bearer scheme.
func ExtractBearer(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Middleware enforces bearer auth on an endpoint with no dialect-specific
// error shape (used for /activity/stream). Dialect ingress endpoints call
// Authenticate directly so they can format the 401 in their own wire
// format instead.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearer(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("session")
			}
			if err := service.Authenticate(token); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
