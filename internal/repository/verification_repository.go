package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/veriloq/auth-core/internal/models"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
)

// VerificationRepository persists single-use verification codes. The redeem
// path is a single conditional update so two concurrent redemptions of the
// same code can never both succeed.
type VerificationRepository struct {
	db *sqlx.DB
}

// NewVerificationRepository creates a new instance of VerificationRepository.
func NewVerificationRepository(db *sqlx.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Create stores a freshly issued code.
func (r *VerificationRepository) Create(ctx context.Context, code *models.VerificationCode) error {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	const query = `INSERT INTO verification_codes (id, user_id, code, purpose, created_at, expires_at, used_at) VALUES (:id, :user_id, :code, :purpose, :created_at, :expires_at, :used_at)`
	if _, err := r.db.NamedExecContext(ctx, query, code); err != nil {
		return fmt.Errorf("create verification code: %w", err)
	}
	return nil
}

// Redeem marks the most recent matching unused code as used, checking expiry
// and use-state against the stored row at the moment of the update. Zero rows
// affected means the attempt failed; a diagnostic read classifies why.
func (r *VerificationRepository) Redeem(ctx context.Context, userID, code string, purpose models.CodePurpose, now time.Time) error {
	const redeem = `UPDATE verification_codes SET used_at = $4
		WHERE id = (
			SELECT id FROM verification_codes
			WHERE user_id = $1 AND code = $2 AND purpose = $3
			ORDER BY created_at DESC LIMIT 1
		) AND used_at IS NULL AND expires_at > $4`
	res, err := r.db.ExecContext(ctx, redeem, userID, code, purpose, now)
	if err != nil {
		return fmt.Errorf("redeem verification code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("redeem verification code: %w", err)
	}
	if affected == 1 {
		return nil
	}

	const lookup = `SELECT id, user_id, code, purpose, created_at, expires_at, used_at FROM verification_codes WHERE user_id = $1 AND code = $2 AND purpose = $3 ORDER BY created_at DESC LIMIT 1`
	var record models.VerificationCode
	if err := r.db.GetContext(ctx, &record, lookup, userID, code, purpose); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrCodeInvalid
		}
		return fmt.Errorf("classify failed redemption: %w", err)
	}
	if record.UsedAt != nil {
		return appErrors.ErrCodeUsed
	}
	if !record.ExpiresAt.After(now) {
		return appErrors.ErrCodeExpired
	}
	return appErrors.ErrCodeInvalid
}

// DeleteExpired purges codes past expiry or past their post-use retention.
func (r *VerificationRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM verification_codes WHERE expires_at < $1 OR used_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired verification codes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired verification codes: %w", err)
	}
	return affected, nil
}
