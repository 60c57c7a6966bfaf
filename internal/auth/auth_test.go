package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_ProxyAPIKey(t *testing.T) {
	svc := NewService(Config{ProxyAPIKey: "secret-key"})
	assert.NoError(t, svc.Authenticate("secret-key"))
	assert.ErrorIs(t, svc.Authenticate("wrong-key"), ErrInvalidCredentials)
	assert.ErrorIs(t, svc.Authenticate(""), ErrMissingCredentials)
}

func TestAuthenticate_JWT(t *testing.T) {
	svc := NewService(Config{JWTSecret: "jwt-secret", JWTIssuer: "luthien-gateway"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "luthien-gateway",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	assert.NoError(t, svc.Authenticate(signed))
}

func TestAuthenticate_JWT_WrongIssuer(t *testing.T) {
	svc := NewService(Config{JWTSecret: "jwt-secret", JWTIssuer: "luthien-gateway"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Authenticate(signed), ErrInvalidCredentials)
}

func TestAuthenticate_JWT_Expired(t *testing.T) {
	svc := NewService(Config{JWTSecret: "jwt-secret"})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := token.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Authenticate(signed), ErrInvalidCredentials)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc123", ExtractBearer("Bearer abc123"))
	assert.Equal(t, "abc123", ExtractBearer("bearer abc123"))
	assert.Equal(t, "", ExtractBearer(""))
	assert.Equal(t, "", ExtractBearer("Basic abc123"))
}

func TestMiddleware_RejectsMissingToken(t *testing.T) {
	svc := NewService(Config{ProxyAPIKey: "secret-key"})
	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/activity/stream", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_AllowsValidToken(t *testing.T) {
	svc := NewService(Config{ProxyAPIKey: "secret-key"})
	handler := Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/activity/stream", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
