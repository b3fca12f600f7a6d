package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/statlinehq/statline-auth/internal/domain"
)

type sweepSessionRepository struct {
	reaped      int64
	deleteError error
	calls       int
}

func (m *sweepSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	return nil
}

func (m *sweepSessionRepository) FindByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return nil, nil
}

func (m *sweepSessionRepository) RotateRefreshHash(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	return false, nil
}

func (m *sweepSessionRepository) Delete(ctx context.Context, sessionID string) error {
	return nil
}

func (m *sweepSessionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (m *sweepSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	m.calls++
	if m.deleteError != nil {
		return 0, m.deleteError
	}
	return m.reaped, nil
}

func TestDefaultSessionSweeperConfig(t *testing.T) {
	config := DefaultSessionSweeperConfig()

	if config.SweepInterval != 1*time.Hour {
		t.Errorf("SweepInterval = %v, want %v", config.SweepInterval, 1*time.Hour)
	}
}

func TestNewSessionSweeper_WithDefaultConfig(t *testing.T) {
	sweeper := NewSessionSweeper(nil, nil)

	if sweeper == nil {
		t.Fatal("NewSessionSweeper() returned nil")
	}

	if sweeper.config == nil {
		t.Fatal("Sweeper config should not be nil")
	}

	if sweeper.config.SweepInterval != 1*time.Hour {
		t.Errorf("Default SweepInterval = %v, want %v", sweeper.config.SweepInterval, 1*time.Hour)
	}

	if sweeper.running {
		t.Error("Sweeper should not be running initially")
	}
}

func TestSessionSweeper_Sweep(t *testing.T) {
	repo := &sweepSessionRepository{reaped: 42}
	sweeper := NewSessionSweeper(repo, nil)

	sweeper.sweep(context.Background())

	if repo.calls != 1 {
		t.Errorf("Expected 1 DeleteExpired call, got %d", repo.calls)
	}
}

func TestSessionSweeper_SweepError(t *testing.T) {
	repo := &sweepSessionRepository{deleteError: errors.New("connection lost")}
	sweeper := NewSessionSweeper(repo, nil)

	// Must not panic, just log and move on
	sweeper.sweep(context.Background())

	if repo.calls != 1 {
		t.Errorf("Expected 1 DeleteExpired call, got %d", repo.calls)
	}
}

func TestSessionSweeper_StartStop(t *testing.T) {
	repo := &sweepSessionRepository{}
	sweeper := NewSessionSweeper(repo, &SessionSweeperConfig{SweepInterval: 10 * time.Millisecond})

	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := sweeper.Start(context.Background()); err == nil {
		t.Error("Expected error starting an already running sweeper")
	}

	time.Sleep(35 * time.Millisecond)
	sweeper.Stop()

	if repo.calls == 0 {
		t.Error("Expected at least one sweep while running")
	}

	// Second Stop is a no-op
	sweeper.Stop()
}
