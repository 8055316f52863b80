package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/veriloq/auth-core/internal/models"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	MarkEmailVerified(ctx context.Context, id string, verifiedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type sessionStore interface {
	Create(ctx context.Context, session *models.RefreshSession) error
	ValidateActive(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshSession, error)
	Rotate(ctx context.Context, oldHash string, next *models.RefreshSession) error
	RevokeByID(ctx context.Context, id string, revokedAt time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) (int64, error)
	ListActive(ctx context.Context, userID, excludeID string, now time.Time) ([]models.SessionSummary, error)
}

type accessBlacklist interface {
	Add(ctx context.Context, fingerprint string, ttl time.Duration) error
	Contains(ctx context.Context, fingerprint string) (bool, error)
}

// AuthService composes the token issuer and the session store into the
// externally visible login, refresh, logout and session-listing operations,
// including the refresh-token reuse-detection policy.
type AuthService struct {
	users     authUserRepository
	sessions  sessionStore
	blacklist accessBlacklist
	issuer    *TokenIssuer
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, sessions sessionStore, blacklist accessBlacklist, issuer *TokenIssuer, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		blacklist: blacklist,
		issuer:    issuer,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// UserByEmail exposes the user directory to composition above this service.
func (s *AuthService) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	return user, nil
}

// Register creates a new unverified account.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.audit(ctx, &user.ID, models.AuditActionRegister, nil, "", "")
	return user, nil
}

// Login authenticates a user and returns a fresh access/refresh pair backed
// by a new session record.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordLogin(false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.EmailVerified {
		s.recordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrEmailNotVerified, "email address not verified")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	sessionID := uuid.NewString()
	accessToken, accessExp, err := s.issuer.IssueAccess(user, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refreshToken, refreshExp, err := s.issuer.IssueRefresh(user.ID, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	now := s.now().UTC()
	session := &models.RefreshSession{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: TokenFingerprint(refreshToken),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}
	s.audit(ctx, &user.ID, models.AuditActionLogin, []byte(`{"status":"success"}`), req.IP, req.UserAgent)
	s.recordLogin(true)

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessExp.Sub(now).Seconds()),
		IssuedAt:     now,
		User: models.UserInfo{
			ID:            user.ID,
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
		},
	}, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the session
// record. Presenting an already-rotated token is treated as theft: the whole
// session family is revoked before the error is returned.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.issuer.VerifyRefresh(req.RefreshToken)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	oldHash := TokenFingerprint(req.RefreshToken)
	session, err := s.sessions.ValidateActive(ctx, oldHash, now)
	if err != nil {
		return nil, s.escalateReuse(ctx, err, claims.Subject, req)
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	newSessionID := uuid.NewString()
	accessToken, accessExp, err := s.issuer.IssueAccess(user, newSessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refreshToken, refreshExp, err := s.issuer.IssueRefresh(user.ID, newSessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	next := &models.RefreshSession{
		ID:        newSessionID,
		UserID:    user.ID,
		TokenHash: TokenFingerprint(refreshToken),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	}
	if err := s.sessions.Rotate(ctx, oldHash, next); err != nil {
		return nil, s.escalateReuse(ctx, err, user.ID, req)
	}

	s.audit(ctx, &user.ID, models.AuditActionRefresh, []byte(`{"refresh":"rotated"}`), req.IP, req.UserAgent)
	if s.metrics != nil {
		s.metrics.RecordRotation()
	}

	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessExp.Sub(now).Seconds()),
		IssuedAt:     now,
	}, nil
}

// Logout revokes the session paired to the presented access token and
// blacklists the token for the remainder of its lifetime. With logoutAll set
// it tears down every session the user owns.
func (s *AuthService) Logout(ctx context.Context, accessToken string, logoutAll bool, ip, userAgent string) (int64, error) {
	claims, err := s.issuer.VerifyAccess(accessToken)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	ttl := claims.ExpiresAt.Time.Sub(now)
	if err := s.blacklist.Add(ctx, TokenFingerprint(accessToken), ttl); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to blacklist access token")
	}

	var revoked int64
	if logoutAll {
		revoked, err = s.sessions.RevokeAllForUser(ctx, claims.Subject, now)
		if err != nil {
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
		}
	} else {
		if err := s.sessions.RevokeByID(ctx, claims.SessionID, now); err != nil {
			return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
		}
		revoked = 1
	}

	s.audit(ctx, &claims.Subject, models.AuditActionLogout, nil, ip, userAgent)
	return revoked, nil
}

// ActiveSessions lists the caller's other active sessions.
func (s *AuthService) ActiveSessions(ctx context.Context, accessToken string) (*models.ActiveSessionsResponse, error) {
	claims, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessions.ListActive(ctx, claims.Subject, claims.SessionID, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	return &models.ActiveSessionsResponse{
		CurrentSessionID: claims.SessionID,
		TotalSessions:    len(sessions),
		Sessions:         sessions,
	}, nil
}

// Authenticate verifies an access token and additionally checks the
// blacklist, for endpoints that must observe logout immediately.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.AccessClaims, error) {
	claims, err := s.issuer.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}

	blocked, err := s.blacklist.Contains(ctx, TokenFingerprint(accessToken))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "blacklist lookup failed")
	}
	if blocked {
		return nil, appErrors.ErrTokenBlacklisted
	}
	return claims, nil
}

// ChangePassword updates the password and revokes every session.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := s.now().UTC()
	if err := s.users.UpdatePassword(ctx, userID, string(newHash), now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, userID, now); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", zap.Error(err))
	}

	s.audit(ctx, &userID, models.AuditActionPasswordChange, []byte(`{"status":"changed"}`), "", "")
	return nil
}

// CompleteReset installs a new password after a reset code was redeemed and
// revokes every session the user owns.
func (s *AuthService) CompleteReset(ctx context.Context, userID, newPassword string) error {
	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := s.now().UTC()
	if err := s.users.UpdatePassword(ctx, userID, string(newHash), now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, userID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}

	s.audit(ctx, &userID, models.AuditActionPasswordReset, []byte(`{"status":"reset"}`), "", "")
	return nil
}

// MarkEmailVerified flips the verified flag after a successful redemption.
func (s *AuthService) MarkEmailVerified(ctx context.Context, userID string) error {
	if err := s.users.MarkEmailVerified(ctx, userID, s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark email verified")
	}
	s.audit(ctx, &userID, models.AuditActionEmailVerified, nil, "", "")
	return nil
}

// escalateReuse applies the reuse-detection policy: a refresh attempt that
// finds its record already rotated means the token was exchanged before, so
// the entire session family is revoked before the error surfaces. A revoked
// record is already contained and passes through unchanged.
func (s *AuthService) escalateReuse(ctx context.Context, err error, userID string, req models.RefreshTokenRequest) error {
	if !appErrors.Is(err, appErrors.ErrSessionSuperseded) {
		return err
	}

	revoked, revokeErr := s.sessions.RevokeAllForUser(ctx, userID, s.now().UTC())
	if revokeErr != nil {
		s.logger.Error("failed to revoke sessions after reuse detection",
			zap.String("user_id", userID), zap.Error(revokeErr))
	} else {
		s.logger.Warn("refresh token reuse detected, all sessions revoked",
			zap.String("user_id", userID), zap.Int64("sessions_revoked", revoked))
	}

	s.audit(ctx, &userID, models.AuditActionReuseDetected, []byte(`{"action":"revoked_all"}`), req.IP, req.UserAgent)
	if s.metrics != nil {
		s.metrics.RecordReuseDetected()
	}
	return appErrors.ErrReuseDetected
}

func (s *AuthService) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}

func (s *AuthService) audit(ctx context.Context, userID *string, action string, values []byte, ip, userAgent string) {
	log := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  "auth",
		NewValues: values,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if userID != nil {
		log.ResourceID = userID
	}
	if err := s.users.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
