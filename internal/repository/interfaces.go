package repository

import (
	"context"
	"time"

	"github.com/statlinehq/statline-auth/internal/domain"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	// Create inserts a new user; a duplicate email returns domain.ErrEmailExists
	Create(ctx context.Context, user *domain.User) error
	// FindByID retrieves a user by ID, (nil, nil) when absent
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// FindByEmail retrieves a user by normalized email, (nil, nil) when absent
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// UpdatePasswordHash replaces the stored password hash
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	// RecordLoginFailure atomically increments the failure counter, locking the
	// account until now+lockFor once the fresh count reaches threshold;
	// returns the count and the lock expiry when one was set
	RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error)
	// ResetLoginFailures zeroes the failure counter and clears any lock
	ResetLoginFailures(ctx context.Context, userID string) error
}

// SessionRepository defines the interface for refresh session data access
type SessionRepository interface {
	// Create inserts a new session
	Create(ctx context.Context, session *domain.Session) error
	// FindByID retrieves a session by ID, (nil, nil) when absent
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	// RotateRefreshHash swaps oldHash for newHash and extends expiry in one
	// compare-and-swap; false means another rotation got there first
	RotateRefreshHash(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error)
	// Delete removes a session; deleting an absent session is not an error
	Delete(ctx context.Context, id string) error
	// DeleteByUserID removes every session of a user, returning the count
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	// DeleteExpired removes sessions past their expiry, returning the count
	DeleteExpired(ctx context.Context) (int64, error)
}

// LoginThrottleRepository defines the interface for login attempt counters
type LoginThrottleRepository interface {
	// IncrIPAttempt bumps the per-IP counter, returning the fresh count and window TTL
	IncrIPAttempt(ctx context.Context, ip string) (int64, time.Duration, error)
	// IncrAccountAttempt bumps the per-account counter, returning the fresh count and window TTL
	IncrAccountAttempt(ctx context.Context, email string) (int64, time.Duration, error)
	// ResetAccountAttempts drops the per-account counter after a successful login
	ResetAccountAttempts(ctx context.Context, email string) error
}
