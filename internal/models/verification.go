package models

import "time"

// CodePurpose selects what a verification code proves.
type CodePurpose string

const (
	PurposeEmailVerification CodePurpose = "email_verification"
	PurposePasswordReset     CodePurpose = "password_reset"
)

// VerificationCode is a single-use, time-boxed 6-digit code. At most one
// redemption ever succeeds; UsedAt is set by a conditional update so
// concurrent redemptions cannot both win.
type VerificationCode struct {
	ID        string      `db:"id" json:"id"`
	UserID    string      `db:"user_id" json:"user_id"`
	Code      string      `db:"code" json:"-"`
	Purpose   CodePurpose `db:"purpose" json:"purpose"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	ExpiresAt time.Time   `db:"expires_at" json:"expires_at"`
	UsedAt    *time.Time  `db:"used_at" json:"used_at,omitempty"`
}
