package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veriloq/auth-core/internal/models"
	"github.com/veriloq/auth-core/pkg/config"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
)

const refreshTokenType = "refresh"

// TokenIssuer mints and verifies signed tokens. It is the sole holder of the
// signing secret and performs no I/O: validity is a pure function of the
// token, the configuration and the injected clock.
type TokenIssuer struct {
	config config.JWTConfig
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer from immutable configuration.
func NewTokenIssuer(cfg config.JWTConfig) *TokenIssuer {
	return &TokenIssuer{config: cfg, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

// IssueAccess mints a short-lived access token bound to a refresh session.
func (i *TokenIssuer) IssueAccess(user *models.User, sessionID string) (string, time.Time, error) {
	issuedAt := i.now().UTC()
	expiresAt := issuedAt.Add(i.config.AccessExpiry)
	claims := &models.AccessClaims{
		SessionID: sessionID,
		Email:     user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   user.ID,
			Audience:  i.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefresh mints a long-lived refresh token bound to a session record.
func (i *TokenIssuer) IssueRefresh(userID, sessionID string) (string, time.Time, error) {
	issuedAt := i.now().UTC()
	expiresAt := issuedAt.Add(i.config.RefreshExpiry)
	claims := &models.RefreshClaims{
		SessionID: sessionID,
		TokenType: refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   userID,
			Audience:  i.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccess validates signature, expiry, issuer and audience of an access
// token and returns its claims.
func (i *TokenIssuer) VerifyAccess(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := i.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if err := i.checkIssuerAudience(claims.Issuer, claims.Audience); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh validates a refresh-typed token and returns its claims.
// Tokens without the refresh type marker are rejected as malformed so an
// access token can never be replayed as a refresh token.
func (i *TokenIssuer) VerifyRefresh(tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := i.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != refreshTokenType {
		return nil, appErrors.Clone(appErrors.ErrTokenMalformed, "not a refresh token")
	}
	if err := i.checkIssuerAudience(claims.Issuer, claims.Audience); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *TokenIssuer) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.config.Secret), nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return appErrors.ErrTokenExpired
		}
		return appErrors.Wrap(err, appErrors.ErrTokenMalformed.Code, appErrors.ErrTokenMalformed.Status, "invalid token")
	}
	if !token.Valid {
		return appErrors.Clone(appErrors.ErrTokenMalformed, "invalid token claims")
	}
	return nil
}

func (i *TokenIssuer) checkIssuerAudience(issuer string, audience jwt.ClaimStrings) error {
	if issuer != i.config.Issuer {
		return appErrors.ErrIssuerMismatch
	}
	if len(i.config.Audience) == 0 {
		return nil
	}
	for _, want := range i.config.Audience {
		for _, got := range audience {
			if want == got {
				return nil
			}
		}
	}
	return appErrors.ErrAudienceMismatch
}

// TokenFingerprint returns the SHA-256 fingerprint of a token value. Stores
// only ever see fingerprints, never raw secrets.
func TokenFingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
