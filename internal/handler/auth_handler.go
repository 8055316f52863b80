package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veriloq/auth-core/internal/models"
	"github.com/veriloq/auth-core/internal/service"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
	"github.com/veriloq/auth-core/pkg/response"
)

const enumerationSafeMessage = "If an account exists with this email, a code has been sent."

// AuthHandler wires HTTP endpoints to the auth, verification and email services.
type AuthHandler struct {
	auth         *service.AuthService
	verification *service.VerificationService
	email        *service.EmailService
	logger       *zap.Logger
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(auth *service.AuthService, verification *service.VerificationService, email *service.EmailService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: auth, verification: verification, email: email, logger: logger}
}

// Register godoc
// @Summary Register a new account
// @Description Create an unverified account and send an email verification code
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	code, err := h.verification.Issue(c.Request.Context(), user.ID, models.PurposeEmailVerification)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.email.SendVerificationCode(user.Email, code); err != nil {
		// Code is already stored; the client can request a resend.
		h.logger.Warn("failed to queue verification email", zap.Error(err))
		response.Error(c, err)
		return
	}

	response.Created(c, models.MessageResponse{Message: "Account created. Check your email for a verification code."})
}

// VerifyEmail godoc
// @Summary Verify email address
// @Description Redeem an email verification code
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.VerifyEmailRequest true "Verification payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req models.VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	user, err := h.auth.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	if user.EmailVerified {
		response.Error(c, appErrors.ErrEmailVerified)
		return
	}

	if err := h.verification.Redeem(c.Request.Context(), user.ID, req.Code, models.PurposeEmailVerification); err != nil {
		response.Error(c, err)
		return
	}

	if err := h.auth.MarkEmailVerified(c.Request.Context(), user.ID); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, models.MessageResponse{Message: "Email verified successfully. You can now log in."})
}

// ResendCode godoc
// @Summary Resend verification code
// @Description Issue a fresh email verification code
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ResendCodeRequest true "Resend payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/resend-code [post]
func (h *AuthHandler) ResendCode(c *gin.Context) {
	var req models.ResendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	user, err := h.auth.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	if user.EmailVerified {
		response.Error(c, appErrors.ErrEmailVerified)
		return
	}

	code, err := h.verification.Issue(c.Request.Context(), user.ID, models.PurposeEmailVerification)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.email.SendVerificationCode(user.Email, code); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, models.MessageResponse{Message: "Verification code sent successfully."})
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by email and password, returning an access/refresh pair
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Refresh access token
// @Description Exchange a refresh token for a new token pair
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.auth.Refresh(c.Request.Context(), req)
	if err != nil {
		h.respondOpaque(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Logout godoc
// @Summary Logout
// @Description Blacklist the access token and revoke the paired session, or all sessions
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LogoutRequest false "Logout payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token := rawTokenFromContext(c)
	if token == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid logout payload"))
			return
		}
	}

	revoked, err := h.auth.Logout(c.Request.Context(), token, req.LogoutAll, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		h.respondOpaque(c, err)
		return
	}

	msg := "Logged out from this device."
	if req.LogoutAll {
		msg = "Logged out from all devices successfully."
	}
	response.JSON(c, http.StatusOK, models.LogoutResponse{Message: msg, SessionsRevoked: revoked})
}

// Sessions godoc
// @Summary List active sessions
// @Description List the caller's other active sessions
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/sessions [get]
func (h *AuthHandler) Sessions(c *gin.Context) {
	token := rawTokenFromContext(c)
	if token == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.auth.ActiveSessions(c.Request.Context(), token)
	if err != nil {
		h.respondOpaque(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Me godoc
// @Summary Get current user
// @Description Returns the authenticated user's info
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	info := models.UserInfo{
		ID:            claims.Subject,
		Email:         claims.Email,
		EmailVerified: true,
	}
	response.JSON(c, http.StatusOK, info)
}

// ChangePassword godoc
// @Summary Change password
// @Description Change password for the current user; revokes all sessions
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ChangePasswordRequest true "Change password payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.auth.ChangePassword(c.Request.Context(), claims.Subject, req); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ForgotPassword godoc
// @Summary Request password reset
// @Description Send a password reset code; response is identical whether or not the account exists
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ForgotPasswordRequest true "Forgot password payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	user, err := h.auth.UserByEmail(c.Request.Context(), req.Email)
	if err != nil || !user.EmailVerified {
		// Uniform response regardless of account existence.
		response.JSON(c, http.StatusAccepted, models.MessageResponse{Message: enumerationSafeMessage})
		return
	}

	code, err := h.verification.Issue(c.Request.Context(), user.ID, models.PurposePasswordReset)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.email.SendPasswordResetCode(user.Email, code); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, models.MessageResponse{Message: enumerationSafeMessage})
}

// ResetPassword godoc
// @Summary Reset password
// @Description Redeem a reset code and install a new password; revokes all sessions
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.ResetPasswordRequest true "Reset password payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	userID, err := h.verification.RedeemByEmail(c.Request.Context(), req.Email, req.Code, models.PurposePasswordReset)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.auth.CompleteReset(c.Request.Context(), userID, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, models.MessageResponse{Message: "Password reset successfully. Please log in with your new password."})
}

// respondOpaque flattens every authentication failure into a single
// unauthorized response so callers cannot distinguish expired from revoked
// credentials. The precise kind stays in logs and audit records.
func (h *AuthHandler) respondOpaque(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status == http.StatusUnauthorized {
		h.logger.Info("authentication failure", zap.String("code", appErr.Code))
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.Error(c, err)
}
