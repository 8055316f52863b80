package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/veriloq/auth-core/internal/models"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
)

const pqUniqueViolation = "23505"

const sessionColumns = `id, user_id, token_hash, issued_at, expires_at, revoked_at, superseded_by, ip_address, user_agent`

// SessionRepository provides database access for refresh sessions. Rotation
// and revocation rely on conditional updates so the database is the only
// serialization point; no locking happens above it.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new active session record. A session id collision is an
// invariant violation and surfaces as ErrSessionConflict.
func (r *SessionRepository) Create(ctx context.Context, session *models.RefreshSession) error {
	const query = `INSERT INTO refresh_sessions (id, user_id, token_hash, issued_at, expires_at, revoked_at, superseded_by, ip_address, user_agent) VALUES (:id, :user_id, :token_hash, :issued_at, :expires_at, :revoked_at, :superseded_by, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return appErrors.Wrap(err, appErrors.ErrSessionConflict.Code, appErrors.ErrSessionConflict.Status, "session id collision")
		}
		return fmt.Errorf("create refresh session: %w", err)
	}
	return nil
}

// ValidateActive returns the session matching the fingerprint only if it is
// still active. The caller decides whether a superseded match escalates to
// reuse handling.
func (r *SessionRepository) ValidateActive(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshSession, error) {
	session, err := r.findByFingerprint(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if session.RevokedAt != nil {
		return nil, appErrors.ErrSessionRevoked
	}
	if session.SupersededBy != nil {
		return nil, appErrors.ErrSessionSuperseded
	}
	if !session.ExpiresAt.After(now) {
		return nil, appErrors.ErrTokenExpired
	}
	return session, nil
}

// Rotate atomically marks the old session as superseded and inserts its
// replacement. The conditional update guards against a concurrent rotation or
// revocation: exactly one caller wins, the loser gets the state it raced
// against.
func (r *SessionRepository) Rotate(ctx context.Context, oldHash string, next *models.RefreshSession) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const supersede = `UPDATE refresh_sessions SET superseded_by = $2 WHERE token_hash = $1 AND revoked_at IS NULL AND superseded_by IS NULL`
	res, err := tx.ExecContext(ctx, supersede, oldHash, next.ID)
	if err != nil {
		return fmt.Errorf("supersede refresh session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("supersede refresh session: %w", err)
	}
	if affected == 0 {
		// Lost the race or the record never existed. Re-read inside the
		// transaction to classify what the caller is racing against.
		var old models.RefreshSession
		const lookup = `SELECT ` + sessionColumns + ` FROM refresh_sessions WHERE token_hash = $1 LIMIT 1`
		if err := tx.GetContext(ctx, &old, lookup, oldHash); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrSessionUnknown
			}
			return fmt.Errorf("classify rotation loser: %w", err)
		}
		if old.RevokedAt != nil {
			return appErrors.ErrSessionRevoked
		}
		return appErrors.ErrSessionSuperseded
	}

	const insert = `INSERT INTO refresh_sessions (id, user_id, token_hash, issued_at, expires_at, revoked_at, superseded_by, ip_address, user_agent) VALUES (:id, :user_id, :token_hash, :issued_at, :expires_at, :revoked_at, :superseded_by, :ip_address, :user_agent)`
	if _, err := tx.NamedExecContext(ctx, insert, next); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return appErrors.Wrap(err, appErrors.ErrSessionConflict.Code, appErrors.ErrSessionConflict.Status, "session id collision")
		}
		return fmt.Errorf("insert rotated session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// RevokeByID marks a session as revoked. Revoking an already-revoked session
// is a no-op.
func (r *SessionRepository) RevokeByID(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active session owned by the user and returns
// the number revoked.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	const query = `UPDATE refresh_sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, revokedAt)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh sessions: %w", err)
	}
	return affected, nil
}

// ListActive returns all active, unexpired sessions for the user except the
// caller's own.
func (r *SessionRepository) ListActive(ctx context.Context, userID, excludeID string, now time.Time) ([]models.SessionSummary, error) {
	const query = `SELECT id, issued_at, expires_at, ip_address, user_agent FROM refresh_sessions WHERE user_id = $1 AND id <> $2 AND revoked_at IS NULL AND superseded_by IS NULL AND expires_at > $3 ORDER BY issued_at DESC`
	var sessions []models.SessionSummary
	if err := r.db.SelectContext(ctx, &sessions, query, userID, excludeID, now); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpired purges sessions whose expiry or revocation happened before the
// cutoff. Active records are never touched.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM refresh_sessions WHERE expires_at < $1 OR revoked_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return affected, nil
}

func (r *SessionRepository) findByFingerprint(ctx context.Context, tokenHash string) (*models.RefreshSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM refresh_sessions WHERE token_hash = $1 LIMIT 1`
	var session models.RefreshSession
	if err := r.db.GetContext(ctx, &session, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionUnknown
		}
		return nil, fmt.Errorf("find refresh session: %w", err)
	}
	return &session, nil
}
