package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Config{SecretKey: "test-secret", Issuer: "incident-tracker", TokenTTL: time.Hour})
	require.NoError(t, err)
	return a
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := newTestAuthenticator(t)

	token, err := a.IssueToken("ops-bot")
	require.NoError(t, err)

	subject, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ops-bot", subject)
}

func TestAuthenticator_Expired(t *testing.T) {
	a := newTestAuthenticator(t)
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := a.IssueToken("ops-bot")
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_WrongSecret(t *testing.T) {
	a := newTestAuthenticator(t)
	other, err := NewAuthenticator(Config{SecretKey: "other-secret", Issuer: "incident-tracker"})
	require.NoError(t, err)

	token, err := other.IssueToken("ops-bot")
	require.NoError(t, err)

	_, err = a.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_Garbage(t *testing.T) {
	a := newTestAuthenticator(t)

	_, err := a.ValidateToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(Config{})
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	a := newTestAuthenticator(t)
	token, err := a.IssueToken("ops-bot")
	require.NoError(t, err)

	var seen string
	handler := httputil.AuthMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httputil.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, "ops-bot", seen)
			}
		})
	}
}
