package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriloq/auth-core/internal/models"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
)

func codeRow(expiresAt time.Time, usedAt *time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "user_id", "code", "purpose", "created_at", "expires_at", "used_at"}).
		AddRow("c1", "u1", "123456", string(models.PurposeEmailVerification), now, expiresAt, usedAt)
}

func TestVerificationCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVerificationRepository(db)

	mock.ExpectExec("INSERT INTO verification_codes").WillReturnResult(sqlmock.NewResult(1, 1))

	code := &models.VerificationCode{UserID: "u1", Code: "123456", Purpose: models.PurposeEmailVerification}
	require.NoError(t, repo.Create(context.Background(), code))
	assert.NotEmpty(t, code.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRedeemSuccess(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVerificationRepository(db)

	now := time.Now()
	mock.ExpectExec("UPDATE verification_codes SET used_at").
		WithArgs("u1", "123456", models.PurposeEmailVerification, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Redeem(context.Background(), "u1", "123456", models.PurposeEmailVerification, now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRedeemAlreadyUsed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVerificationRepository(db)

	now := time.Now()
	usedAt := now.Add(-time.Minute)
	mock.ExpectExec("UPDATE verification_codes SET used_at").
		WithArgs("u1", "123456", models.PurposeEmailVerification, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, code, purpose, created_at, expires_at, used_at FROM verification_codes").
		WithArgs("u1", "123456", models.PurposeEmailVerification).
		WillReturnRows(codeRow(now.Add(time.Hour), &usedAt))

	err := repo.Redeem(context.Background(), "u1", "123456", models.PurposeEmailVerification, now)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCodeUsed))
}

func TestVerificationRedeemExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVerificationRepository(db)

	now := time.Now()
	mock.ExpectExec("UPDATE verification_codes SET used_at").
		WithArgs("u1", "123456", models.PurposeEmailVerification, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, code, purpose, created_at, expires_at, used_at FROM verification_codes").
		WithArgs("u1", "123456", models.PurposeEmailVerification).
		WillReturnRows(codeRow(now.Add(-time.Minute), nil))

	err := repo.Redeem(context.Background(), "u1", "123456", models.PurposeEmailVerification, now)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCodeExpired))
}

func TestVerificationRedeemUnknownCode(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVerificationRepository(db)

	now := time.Now()
	mock.ExpectExec("UPDATE verification_codes SET used_at").
		WithArgs("u1", "000000", models.PurposeEmailVerification, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, code, purpose, created_at, expires_at, used_at FROM verification_codes").
		WithArgs("u1", "000000", models.PurposeEmailVerification).
		WillReturnError(sql.ErrNoRows)

	err := repo.Redeem(context.Background(), "u1", "000000", models.PurposeEmailVerification, now)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCodeInvalid))
}

func TestVerificationDeleteExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewVerificationRepository(db)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec("DELETE FROM verification_codes").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
