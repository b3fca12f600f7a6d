package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/statlinehq/statline-auth/internal/repository"
	"github.com/statlinehq/statline-auth/pkg/logger"
)

// SessionSweeperConfig contains configuration for the session sweeper
type SessionSweeperConfig struct {
	// SweepInterval is the interval between expired-session sweeps
	SweepInterval time.Duration
}

// DefaultSessionSweeperConfig returns default configuration
func DefaultSessionSweeperConfig() *SessionSweeperConfig {
	return &SessionSweeperConfig{
		SweepInterval: 1 * time.Hour,
	}
}

// SessionSweeper periodically deletes expired session rows. Expired
// sessions are already rejected at refresh time; the sweeper keeps the
// table from accumulating dead rows.
type SessionSweeper struct {
	sessions repository.SessionRepository
	config   *SessionSweeperConfig
	log      *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewSessionSweeper creates a new session sweeper
func NewSessionSweeper(sessions repository.SessionRepository, config *SessionSweeperConfig) *SessionSweeper {
	if config == nil {
		config = DefaultSessionSweeperConfig()
	}

	return &SessionSweeper{
		sessions: sessions,
		config:   config,
		log:      logger.Get(),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the session sweeper
func (w *SessionSweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("session sweeper already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting session sweeper")

	w.wg.Add(1)
	go w.run(ctx)

	return nil
}

// Stop stops the session sweeper
func (w *SessionSweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping session sweeper")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Session sweeper stopped")
}

func (w *SessionSweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep deletes expired sessions and logs the reaped count
func (w *SessionSweeper) sweep(ctx context.Context) {
	reaped, err := w.sessions.DeleteExpired(ctx)
	if err != nil {
		w.log.Error(fmt.Sprintf("Failed to sweep expired sessions: %v", err))
		return
	}

	if reaped > 0 {
		w.log.Info(fmt.Sprintf("Swept %d expired sessions", reaped))
	}
}
