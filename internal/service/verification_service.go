package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/veriloq/auth-core/internal/models"
	"github.com/veriloq/auth-core/pkg/config"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
)

type verificationStore interface {
	Create(ctx context.Context, code *models.VerificationCode) error
	Redeem(ctx context.Context, userID, code string, purpose models.CodePurpose, now time.Time) error
}

type userDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// VerificationService issues and redeems single-use 6-digit codes for email
// verification and password reset.
type VerificationService struct {
	store   verificationStore
	users   userDirectory
	config  config.VerificationConfig
	logger  *zap.Logger
	metrics *MetricsService
	now     func() time.Time
}

// NewVerificationService constructs a VerificationService instance.
func NewVerificationService(store verificationStore, users userDirectory, cfg config.VerificationConfig, logger *zap.Logger, metrics *MetricsService) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationService{
		store:   store,
		users:   users,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *VerificationService) WithClock(now func() time.Time) *VerificationService {
	s.now = now
	return s
}

// Issue generates and stores a fresh code for the user. The plaintext code is
// returned exactly once; afterwards only redemption can touch it.
func (s *VerificationService) Issue(ctx context.Context, userID string, purpose models.CodePurpose) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}

	now := s.now().UTC()
	record := &models.VerificationCode{
		UserID:    userID,
		Code:      code,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.Expiry),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store code")
	}

	if s.metrics != nil {
		s.metrics.RecordCodeIssued(string(purpose))
	}
	return code, nil
}

// Redeem consumes the most recent matching code for the user. At most one
// redemption of a given code ever succeeds; the store's conditional update is
// the serialization point.
func (s *VerificationService) Redeem(ctx context.Context, userID, code string, purpose models.CodePurpose) error {
	err := s.store.Redeem(ctx, userID, code, purpose, s.now().UTC())
	if s.metrics != nil {
		s.metrics.RecordCodeRedeemed(string(purpose), err == nil)
	}
	return err
}

// RedeemByEmail resolves the account first, then redeems. Used by the
// password-reset flow where the caller only knows the email address. The
// engine fails distinguishably; uniform external responses are the layer
// above's concern.
func (s *VerificationService) RedeemByEmail(ctx context.Context, email, code string, purpose models.CodePurpose) (string, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.ErrCodeInvalid
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := s.Redeem(ctx, user.ID, code, purpose); err != nil {
		return "", err
	}
	return user.ID, nil
}

// generateCode returns a uniformly random 6-digit code. Leading zeros are
// significant, so the code is always rendered as exactly 6 digits.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
