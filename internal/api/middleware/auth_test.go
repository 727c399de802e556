package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-auth-middleware-tests"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "ops@example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

// protectedProbe records whether the inner handler ran and what subject it saw.
type protectedProbe struct {
	called  bool
	subject string
}

func (p *protectedProbe) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.called = true
		p.subject, _ = GetAdminSubject(r)
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, authHeader string) (*httptest.ResponseRecorder, *protectedProbe) {
	t.Helper()

	m, err := NewAuthMiddleware(testSecret)
	require.NoError(t, err)

	probe := &protectedProbe{}
	req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()

	m.Authenticate(probe.handler()).ServeHTTP(rr, req)
	return rr, probe
}

func TestNewAuthMiddlewareRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewAuthMiddleware("")
	assert.Error(t, err)
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	t.Parallel()

	token := signToken(t, testSecret, validClaims())
	rr, probe := doRequest(t, "Bearer "+token)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, probe.called)
	assert.Equal(t, "ops@example.com", probe.subject)
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	t.Parallel()

	rr, probe := doRequest(t, "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, probe.called)
	assert.Contains(t, rr.Body.String(), "Authorization header required")
}

func TestAuthenticateRejectsMalformedHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
	}{
		{"no scheme", "justatoken"},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"extra parts", "Bearer one two"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rr, probe := doRequest(t, tc.header)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.False(t, probe.called)
		})
	}
}

func TestAuthenticateRejectsWrongSignature(t *testing.T) {
	t.Parallel()

	token := signToken(t, "a-completely-different-secret", validClaims())
	rr, probe := doRequest(t, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, probe.called)
	assert.Contains(t, rr.Body.String(), "Invalid token")
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	token := signToken(t, testSecret, claims)

	rr, probe := doRequest(t, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, probe.called)
	assert.Contains(t, rr.Body.String(), "Token expired")
}

func TestAuthenticateRejectsMissingSubject(t *testing.T) {
	t.Parallel()

	claims := validClaims()
	delete(claims, "sub")
	token := signToken(t, testSecret, claims)

	rr, probe := doRequest(t, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, probe.called)
}
