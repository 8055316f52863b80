package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veriloq/auth-core/pkg/config"
)

type sessionPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type codePurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupService periodically purges refresh sessions and verification codes
// past their retention window. It never mutates active records and has no
// correctness dependency from the rest of the system; failures are logged and
// retried on the next tick.
type CleanupService struct {
	sessions sessionPurger
	codes    codePurger
	config   config.CleanupConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewCleanupService constructs a CleanupService instance.
func NewCleanupService(sessions sessionPurger, codes codePurger, cfg config.CleanupConfig, logger *zap.Logger) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupService{
		sessions: sessions,
		codes:    codes,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *CleanupService) WithClock(now func() time.Time) *CleanupService {
	s.now = now
	return s
}

// Run blocks until the context is cancelled, sweeping once per interval.
func (s *CleanupService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("cleanup sweeper started", zap.Duration("interval", s.config.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one purge pass. Exposed for tests and for an initial sweep at
// startup.
func (s *CleanupService) Sweep(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.config.Retention)

	if n, err := s.sessions.DeleteExpired(ctx, cutoff); err != nil {
		s.logger.Error("failed to purge refresh sessions", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("purged refresh sessions", zap.Int64("count", n))
	}

	if n, err := s.codes.DeleteExpired(ctx, cutoff); err != nil {
		s.logger.Error("failed to purge verification codes", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("purged verification codes", zap.Int64("count", n))
	}
}
