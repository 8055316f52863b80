package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veriloq/auth-core/internal/mailer"
	"github.com/veriloq/auth-core/pkg/config"
	appErrors "github.com/veriloq/auth-core/pkg/errors"
	"github.com/veriloq/auth-core/pkg/jobs"
)

const (
	jobTypeVerificationEmail  = "verification_email"
	jobTypePasswordResetEmail = "password_reset_email"
)

// EmailService dispatches verification and reset emails through a retrying
// worker queue, so a slow relay never blocks the request path. A failed
// enqueue surfaces as DeliveryFailed; the code itself is already stored.
type EmailService struct {
	sender mailer.Sender
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewEmailService builds the service and its backing queue.
func NewEmailService(sender mailer.Sender, cfg config.EmailWorkerConfig, logger *zap.Logger) *EmailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EmailService{sender: sender, logger: logger}
	s.queue = jobs.NewQueue("email", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return s
}

// Start begins queue consumption.
func (s *EmailService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *EmailService) Stop() {
	s.queue.Stop()
}

// SendVerificationCode queues the email-verification message.
func (s *EmailService) SendVerificationCode(to, code string) error {
	return s.enqueue(jobTypeVerificationEmail, verificationMessage(to, code))
}

// SendPasswordResetCode queues the password-reset message.
func (s *EmailService) SendPasswordResetCode(to, code string) error {
	return s.enqueue(jobTypePasswordResetEmail, resetMessage(to, code))
}

func (s *EmailService) enqueue(jobType string, msg mailer.Message) error {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: msg,
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrDeliveryFailed.Code, appErrors.ErrDeliveryFailed.Status, "failed to queue email")
	}
	return nil
}

func (s *EmailService) handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		s.logger.Error("email job carries unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.sender.Send(ctx, msg)
}

func verificationMessage(to, code string) mailer.Message {
	return mailer.Message{
		To:      to,
		Subject: "Verify Your Email Address",
		TextBody: fmt.Sprintf(
			"Welcome!\n\nUse this code to verify your email address:\n\n%s\n\nIf you didn't create an account, ignore this message.", code),
		HTMLBody: fmt.Sprintf(
			"<p>Welcome!</p><p>Your verification code is <b>%s</b>.</p><p>If you didn't create an account, ignore this message.</p>", code),
	}
}

func resetMessage(to, code string) mailer.Message {
	return mailer.Message{
		To:      to,
		Subject: "Password Reset Request",
		TextBody: fmt.Sprintf(
			"You have requested to reset your password.\n\nYour password reset code is: %s\n\nThis code will expire in 15 minutes.\n\nIf you did not request this password reset, please ignore this email and your password will remain unchanged.", code),
		HTMLBody: fmt.Sprintf(
			"<p>You have requested to reset your password.</p><p>Your password reset code is <b>%s</b>.</p><p>This code will expire in 15 minutes.</p><p>If you did not request this reset, ignore this email.</p>", code),
	}
}
