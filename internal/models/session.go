package models

import "time"

// RefreshSession is the server-side record behind a refresh token. The raw
// token value is never stored, only its SHA-256 fingerprint.
//
// A session is in exactly one of three states: active, rotated
// (SupersededBy set) or revoked (RevokedAt set). Once rotated or revoked it
// never returns to active.
type RefreshSession struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	TokenHash    string     `db:"token_hash" json:"-"`
	IssuedAt     time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	RevokedAt    *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	SupersededBy *string    `db:"superseded_by" json:"superseded_by,omitempty"`
	IPAddress    string     `db:"ip_address" json:"ip_address"`
	UserAgent    string     `db:"user_agent" json:"user_agent"`
}

// Active reports whether the session can still authorize a refresh.
func (s *RefreshSession) Active() bool {
	return s.RevokedAt == nil && s.SupersededBy == nil
}

// SessionSummary describes an active session for "other devices" listings.
type SessionSummary struct {
	ID        string    `db:"id" json:"id"`
	IssuedAt  time.Time `db:"issued_at" json:"issued_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
}

// ActiveSessionsResponse lists the caller's other active sessions.
type ActiveSessionsResponse struct {
	CurrentSessionID string           `json:"current_session_id"`
	TotalSessions    int              `json:"total_sessions"`
	Sessions         []SessionSummary `json:"sessions"`
}
