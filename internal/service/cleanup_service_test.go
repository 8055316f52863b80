package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/veriloq/auth-core/pkg/config"
)

type mockPurger struct {
	cutoffs []time.Time
	deleted int64
	err     error
}

func (m *mockPurger) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.deleted, m.err
}

func TestCleanupSweepUsesRetentionCutoff(t *testing.T) {
	sessions := &mockPurger{deleted: 3}
	codes := &mockPurger{deleted: 1}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	svc := NewCleanupService(sessions, codes, config.CleanupConfig{
		Interval:  time.Hour,
		Retention: 24 * time.Hour,
	}, zap.NewNop()).WithClock(func() time.Time { return base })

	svc.Sweep(context.Background())

	want := base.Add(-24 * time.Hour)
	assert.Equal(t, []time.Time{want}, sessions.cutoffs)
	assert.Equal(t, []time.Time{want}, codes.cutoffs)
}

func TestCleanupSweepContinuesPastFailure(t *testing.T) {
	sessions := &mockPurger{err: errors.New("db down")}
	codes := &mockPurger{deleted: 2}

	svc := NewCleanupService(sessions, codes, config.CleanupConfig{
		Interval:  time.Hour,
		Retention: time.Hour,
	}, zap.NewNop())

	svc.Sweep(context.Background())

	// The code purge still runs after the session purge failed.
	assert.Len(t, codes.cutoffs, 1)
}

func TestCleanupRunStopsOnCancel(t *testing.T) {
	svc := NewCleanupService(&mockPurger{}, &mockPurger{}, config.CleanupConfig{
		Interval:  time.Millisecond,
		Retention: time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop after cancellation")
	}
}
