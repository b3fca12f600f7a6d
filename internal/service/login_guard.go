package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/statlinehq/statline-auth/internal/domain"
	"github.com/statlinehq/statline-auth/internal/repository"
	"github.com/statlinehq/statline-auth/pkg/logger"
)

var (
	ErrRateLimited   = errors.New("too many login attempts")
	ErrAccountLocked = errors.New("account locked")
)

// RateLimitedError reports a tripped login throttle window
type RateLimitedError struct {
	Scope      string // "ip" or "account"
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts (%s), retry in %s", e.Scope, e.RetryAfter)
}

// Unwrap lets callers match with errors.Is(err, ErrRateLimited)
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// AccountLockedError reports an active account lockout
type AccountLockedError struct {
	LockedUntil time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.LockedUntil.Format(time.RFC3339))
}

// Unwrap lets callers match with errors.Is(err, ErrAccountLocked)
func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}

// LoginGuardConfig holds throttle and lockout thresholds
type LoginGuardConfig struct {
	IPLimit          int64
	AccountLimit     int64
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// DefaultLoginGuardConfig returns the production thresholds
func DefaultLoginGuardConfig() LoginGuardConfig {
	return LoginGuardConfig{
		IPLimit:          10,
		AccountLimit:     5,
		LockoutThreshold: 5,
		LockoutDuration:  30 * time.Minute,
	}
}

// LoginGuard is the brute-force defence in front of credential checks:
// Redis fixed windows per IP and per account, plus a durable Postgres
// lockout that survives Redis restarts.
type LoginGuard struct {
	throttle repository.LoginThrottleRepository
	users    repository.UserRepository
	config   LoginGuardConfig
}

// NewLoginGuard creates a new LoginGuard
func NewLoginGuard(throttle repository.LoginThrottleRepository, users repository.UserRepository, config LoginGuardConfig) *LoginGuard {
	if config.IPLimit == 0 {
		config.IPLimit = 10
	}
	if config.AccountLimit == 0 {
		config.AccountLimit = 5
	}
	if config.LockoutThreshold == 0 {
		config.LockoutThreshold = 5
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = 30 * time.Minute
	}
	return &LoginGuard{
		throttle: throttle,
		users:    users,
		config:   config,
	}
}

// CheckThrottle consumes one attempt from both windows and reports whether
// either is over budget. Both counters are bumped on every call so an
// attacker cannot probe for account existence through counter behavior.
// Redis being down fails open: a Warn log and the login proceeds.
func (g *LoginGuard) CheckThrottle(ctx context.Context, ip, email string) error {
	log := logger.Get()

	ipCount, ipTTL, ipErr := g.throttle.IncrIPAttempt(ctx, ip)
	if ipErr != nil {
		log.Warn(fmt.Sprintf("Login throttle unavailable for IP window, failing open: %v", ipErr))
	}

	acctCount, acctTTL, acctErr := g.throttle.IncrAccountAttempt(ctx, email)
	if acctErr != nil {
		log.Warn(fmt.Sprintf("Login throttle unavailable for account window, failing open: %v", acctErr))
	}

	ipOver := ipErr == nil && ipCount > g.config.IPLimit
	acctOver := acctErr == nil && acctCount > g.config.AccountLimit

	switch {
	case ipOver && acctOver:
		retry := ipTTL
		if acctTTL > retry {
			retry = acctTTL
		}
		return &RateLimitedError{Scope: "account", RetryAfter: retry}
	case acctOver:
		return &RateLimitedError{Scope: "account", RetryAfter: acctTTL}
	case ipOver:
		return &RateLimitedError{Scope: "ip", RetryAfter: ipTTL}
	}
	return nil
}

// CheckLockout reports whether the account is under an active lockout.
// It reads the row fetched for this request, never a cached count.
func (g *LoginGuard) CheckLockout(user *domain.User) error {
	if user.Locked(time.Now()) {
		return &AccountLockedError{LockedUntil: *user.LockedUntil}
	}
	return nil
}

// RecordFailure registers a failed attempt against a known account and
// returns the lock expiry when this failure engaged the lockout. A nil
// user is a no-op at the DB layer; the Redis windows were already
// consumed by CheckThrottle.
func (g *LoginGuard) RecordFailure(ctx context.Context, user *domain.User) (*time.Time, error) {
	if user == nil {
		return nil, nil
	}

	attempts, lockedUntil, err := g.users.RecordLoginFailure(ctx, user.ID, g.config.LockoutThreshold, g.config.LockoutDuration)
	if err != nil {
		return nil, err
	}

	if lockedUntil != nil && attempts == g.config.LockoutThreshold {
		return lockedUntil, nil
	}
	return nil, nil
}

// RecordSuccess resets the durable failure counter and drops the Redis
// account window so a good login restores the full mistake budget.
func (g *LoginGuard) RecordSuccess(ctx context.Context, user *domain.User) error {
	if err := g.users.ResetLoginFailures(ctx, user.ID); err != nil {
		return err
	}

	if err := g.throttle.ResetAccountAttempts(ctx, user.Email); err != nil {
		logger.Get().Warn(fmt.Sprintf("Failed to reset account attempt window: %v", err))
	}
	return nil
}
