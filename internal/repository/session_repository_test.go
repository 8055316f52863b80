package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriloq/auth-core/internal/models"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
)

const sessionSelectPattern = `SELECT id, user_id, token_hash, issued_at, expires_at, revoked_at, superseded_by, ip_address, user_agent FROM refresh_sessions WHERE token_hash = \$1 LIMIT 1`

func sessionRow(id string, expiresAt time.Time, revokedAt *time.Time, supersededBy *string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "user_id", "token_hash", "issued_at", "expires_at", "revoked_at", "superseded_by", "ip_address", "user_agent"}).
		AddRow(id, "u1", "hash", now, expiresAt, revokedAt, supersededBy, "127.0.0.1", "test-agent")
}

func TestSessionValidateActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	mock.ExpectQuery(sessionSelectPattern).
		WithArgs("hash").
		WillReturnRows(sessionRow("s1", now.Add(time.Hour), nil, nil))

	session, err := repo.ValidateActive(context.Background(), "hash", now)
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.True(t, session.Active())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionValidateActiveUnknown(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(sessionSelectPattern).WithArgs("hash").WillReturnError(sql.ErrNoRows)

	_, err := repo.ValidateActive(context.Background(), "hash", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionUnknown))
}

func TestSessionValidateActiveRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	revokedAt := now.Add(-time.Minute)
	mock.ExpectQuery(sessionSelectPattern).
		WithArgs("hash").
		WillReturnRows(sessionRow("s1", now.Add(time.Hour), &revokedAt, nil))

	_, err := repo.ValidateActive(context.Background(), "hash", now)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionRevoked))
}

func TestSessionValidateActiveSuperseded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	next := "s2"
	mock.ExpectQuery(sessionSelectPattern).
		WithArgs("hash").
		WillReturnRows(sessionRow("s1", now.Add(time.Hour), nil, &next))

	_, err := repo.ValidateActive(context.Background(), "hash", now)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionSuperseded))
}

func TestSessionValidateActiveExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	mock.ExpectQuery(sessionSelectPattern).
		WithArgs("hash").
		WillReturnRows(sessionRow("s1", now.Add(-time.Minute), nil, nil))

	_, err := repo.ValidateActive(context.Background(), "hash", now)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenExpired))
}

func TestSessionRotate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_sessions SET superseded_by = $2 WHERE token_hash = $1 AND revoked_at IS NULL AND superseded_by IS NULL")).
		WithArgs("old-hash", "s2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_sessions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	next := &models.RefreshSession{
		ID:        "s2",
		UserID:    "u1",
		TokenHash: "new-hash",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, repo.Rotate(context.Background(), "old-hash", next))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRotateLoserClassifiedSuperseded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	winner := "s9"
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_sessions SET superseded_by").
		WithArgs("old-hash", "s2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(sessionSelectPattern).
		WithArgs("old-hash").
		WillReturnRows(sessionRow("s1", now.Add(time.Hour), nil, &winner))
	mock.ExpectRollback()

	next := &models.RefreshSession{ID: "s2", UserID: "u1", TokenHash: "new-hash"}
	err := repo.Rotate(context.Background(), "old-hash", next)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionSuperseded))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRotateLoserClassifiedRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	revokedAt := now.Add(-time.Minute)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_sessions SET superseded_by").
		WithArgs("old-hash", "s2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(sessionSelectPattern).
		WithArgs("old-hash").
		WillReturnRows(sessionRow("s1", now.Add(time.Hour), &revokedAt, nil))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "old-hash", &models.RefreshSession{ID: "s2"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionRevoked))
}

func TestSessionRotateUnknown(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_sessions SET superseded_by").
		WithArgs("old-hash", "s2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(sessionSelectPattern).WithArgs("old-hash").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "old-hash", &models.RefreshSession{ID: "s2"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionUnknown))
}

func TestSessionRevokeByIDIdempotent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	revokePattern := regexp.QuoteMeta("UPDATE refresh_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL")
	mock.ExpectExec(revokePattern).WithArgs("s1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(revokePattern).WithArgs("s1", now).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.RevokeByID(context.Background(), "s1", now))
	// Second revocation touches nothing and still succeeds.
	require.NoError(t, repo.RevokeByID(context.Background(), "s1", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL")).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllForUser(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionListActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "issued_at", "expires_at", "ip_address", "user_agent"}).
		AddRow("s2", now, now.Add(time.Hour), "10.0.0.1", "other-agent")
	mock.ExpectQuery("SELECT id, issued_at, expires_at, ip_address, user_agent FROM refresh_sessions").
		WithArgs("u1", "s1", now).
		WillReturnRows(rows)

	sessions, err := repo.ListActive(context.Background(), "u1", "s1", now)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionDeleteExpired(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_sessions WHERE expires_at < $1 OR revoked_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
