package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		Secret: []byte("test-secret-that-is-long-enough"),
		Issuer: "learnhub-identity",
		Clock:  func() time.Time { return now },
	})
	require.NoError(t, err)
	return v
}

func TestVerifierRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, now)

	token, err := v.Issue(Principal{UserID: 17, Roles: []string{"instructor"}}, time.Hour)
	require.NoError(t, err)

	principal, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(17), principal.UserID)
	assert.True(t, principal.HasRole("Instructor"))
	assert.False(t, principal.HasRole("admin"))
}

func TestVerifierRejects(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, now)

	_, err := v.Verify("")
	require.ErrorIs(t, err, ErrMissingToken)

	expired, err := newTestVerifier(t, now.Add(-3*time.Hour)).Issue(Principal{UserID: 1}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier(VerifierConfig{Secret: []byte("another-secret"), Issuer: "learnhub-identity", Clock: func() time.Time { return now }})
	require.NoError(t, err)
	forged, err := other.Issue(Principal{UserID: 1}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret-that-is-long-enough"))
	require.NoError(t, err)
	_, err = v.Verify(wrongIssuer)
	require.ErrorIs(t, err, ErrInvalidToken)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           1,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "learnhub-identity"},
	}).SignedString([]byte("test-secret-that-is-long-enough"))
	require.NoError(t, err)
	_, err = v.Verify(noExpiry)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestVerifierSubjectFallback(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, now)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "99",
			Issuer:    "learnhub-identity",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret-that-is-long-enough"))
	require.NoError(t, err)

	principal, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(99), principal.UserID)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	require.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer  abc.def ")
	assert.Equal(t, "abc.def", ExtractToken(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	assert.Equal(t, "cookie-token", ExtractToken(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", ExtractToken(req))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)
	ctx := ContextWithPrincipal(context.Background(), Principal{UserID: 4})
	principal, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(4), principal.UserID)
}
