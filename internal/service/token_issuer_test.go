package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriloq/auth-core/internal/models"
	"github.com/veriloq/auth-core/pkg/config"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:        "test-secret",
		Issuer:        "auth-core",
		Audience:      []string{"auth-client"},
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
}

func TestTokenIssuerAccessRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testJWTConfig())
	user := &models.User{ID: "u1", Email: "user@example.com"}

	token, exp, err := issuer.IssueAccess(user, "s1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := issuer.VerifyAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestTokenIssuerRefreshRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testJWTConfig())

	token, _, err := issuer.IssueRefresh("u1", "s1")
	require.NoError(t, err)

	claims, err := issuer.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "s1", claims.SessionID)
}

func TestTokenIssuerRejectsAccessAsRefresh(t *testing.T) {
	issuer := NewTokenIssuer(testJWTConfig())
	user := &models.User{ID: "u1", Email: "user@example.com"}

	token, _, err := issuer.IssueAccess(user, "s1")
	require.NoError(t, err)

	_, err = issuer.VerifyRefresh(token)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenMalformed))
}

func TestTokenIssuerExpiry(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer(testJWTConfig()).WithClock(func() time.Time { return base })
	user := &models.User{ID: "u1", Email: "user@example.com"}

	token, _, err := issuer.IssueAccess(user, "s1")
	require.NoError(t, err)

	issuer.WithClock(func() time.Time { return base.Add(16 * time.Minute) })
	_, err = issuer.VerifyAccess(token)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenExpired))

	// One second before expiry the token still verifies.
	issuer.WithClock(func() time.Time { return base.Add(15*time.Minute - time.Second) })
	_, err = issuer.VerifyAccess(token)
	assert.NoError(t, err)
}

func TestTokenIssuerRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(testJWTConfig())
	user := &models.User{ID: "u1", Email: "user@example.com"}
	token, _, err := issuer.IssueAccess(user, "s1")
	require.NoError(t, err)

	other := testJWTConfig()
	other.Secret = "other-secret"
	_, err = NewTokenIssuer(other).VerifyAccess(token)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenMalformed))
}

func TestTokenIssuerRejectsIssuerMismatch(t *testing.T) {
	issuer := NewTokenIssuer(testJWTConfig())
	user := &models.User{ID: "u1", Email: "user@example.com"}
	token, _, err := issuer.IssueAccess(user, "s1")
	require.NoError(t, err)

	other := testJWTConfig()
	other.Issuer = "someone-else"
	_, err = NewTokenIssuer(other).VerifyAccess(token)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrIssuerMismatch))
}

func TestTokenIssuerRejectsAudienceMismatch(t *testing.T) {
	issuer := NewTokenIssuer(testJWTConfig())
	user := &models.User{ID: "u1", Email: "user@example.com"}
	token, _, err := issuer.IssueAccess(user, "s1")
	require.NoError(t, err)

	other := testJWTConfig()
	other.Audience = []string{"different-client"}
	_, err = NewTokenIssuer(other).VerifyAccess(token)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAudienceMismatch))
}

func TestTokenIssuerRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer(testJWTConfig())

	_, err := issuer.VerifyAccess("not-a-token")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenMalformed))
}

func TestTokenFingerprintStable(t *testing.T) {
	a := TokenFingerprint("value")
	b := TokenFingerprint("value")
	c := TokenFingerprint("other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
