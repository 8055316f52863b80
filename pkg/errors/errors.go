package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Token verification failures. Always terminal for the request.
var (
	ErrTokenMalformed   = New("TOKEN_MALFORMED", http.StatusUnauthorized, "token is malformed")
	ErrTokenExpired     = New("TOKEN_EXPIRED", http.StatusUnauthorized, "token has expired")
	ErrIssuerMismatch   = New("ISSUER_MISMATCH", http.StatusUnauthorized, "token issuer mismatch")
	ErrAudienceMismatch = New("AUDIENCE_MISMATCH", http.StatusUnauthorized, "token audience mismatch")
)

// Session store lookup failures.
var (
	ErrSessionUnknown    = New("SESSION_UNKNOWN", http.StatusUnauthorized, "refresh session not found")
	ErrSessionRevoked    = New("SESSION_REVOKED", http.StatusUnauthorized, "refresh session revoked")
	ErrSessionSuperseded = New("SESSION_SUPERSEDED", http.StatusUnauthorized, "refresh session already rotated")
	ErrReuseDetected     = New("SESSION_REUSE_DETECTED", http.StatusUnauthorized, "refresh token reuse detected")
	ErrSessionConflict   = New("SESSION_CONFLICT", http.StatusConflict, "session id collision")
	ErrTokenBlacklisted  = New("TOKEN_BLACKLISTED", http.StatusUnauthorized, "access token revoked")
)

// Verification code failures.
var (
	ErrCodeInvalid = New("CODE_INVALID", http.StatusBadRequest, "invalid verification code")
	ErrCodeUsed    = New("CODE_USED", http.StatusBadRequest, "verification code already used")
	ErrCodeExpired = New("CODE_EXPIRED", http.StatusBadRequest, "verification code has expired")
)

// General request and collaborator failures.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrEmailNotVerified   = New("EMAIL_NOT_VERIFIED", http.StatusForbidden, "email address not verified")
	ErrEmailVerified      = New("EMAIL_ALREADY_VERIFIED", http.StatusBadRequest, "email address already verified")
	ErrDeliveryFailed     = New("DELIVERY_FAILED", http.StatusInternalServerError, "failed to send email")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target. Predeclared
// variants are compared by code so wrapped and cloned copies still match.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
