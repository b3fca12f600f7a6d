package service

import (
	"context"
	"sync"
	"time"

	"github.com/statlinehq/statline-auth/internal/domain"
	"github.com/statlinehq/statline-auth/internal/event"
)

// mockUserRepository is a mock implementation of repository.UserRepository
type mockUserRepository struct {
	users       map[string]*domain.User
	emailIndex  map[string]*domain.User
	createError error
	failureErr  error
	rehashed    map[string]string
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users:      make(map[string]*domain.User),
		emailIndex: make(map[string]*domain.User),
		rehashed:   make(map[string]string),
	}
}

func (r *mockUserRepository) add(user *domain.User) {
	r.users[user.ID] = user
	r.emailIndex[user.Email] = user
}

func (r *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if r.createError != nil {
		return r.createError
	}
	if _, exists := r.emailIndex[user.Email]; exists {
		return domain.ErrEmailExists
	}
	r.add(user)
	return nil
}

func (r *mockUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.users[id], nil
}

func (r *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.emailIndex[email], nil
}

func (r *mockUserRepository) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	if user := r.users[userID]; user != nil {
		user.PasswordHash = passwordHash
	}
	r.rehashed[userID] = passwordHash
	return nil
}

func (r *mockUserRepository) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	if r.failureErr != nil {
		return 0, nil, r.failureErr
	}
	user := r.users[userID]
	if user == nil {
		return 0, nil, nil
	}
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= threshold {
		until := time.Now().Add(lockFor)
		user.LockedUntil = &until
	}
	return user.FailedLoginAttempts, user.LockedUntil, nil
}

func (r *mockUserRepository) ResetLoginFailures(ctx context.Context, userID string) error {
	if user := r.users[userID]; user != nil {
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
	}
	return nil
}

// mockSessionRepository is a mock implementation of repository.SessionRepository.
// Mutex-guarded so concurrent refresh tests hold up under -race.
type mockSessionRepository struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	createError error
	rotateFail  bool
	deleted     []string
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{
		sessions: make(map[string]*domain.Session),
	}
}

func (r *mockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if r.createError != nil {
		return r.createError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

// FindByID returns a copy so callers never share the stored row
func (r *mockSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[id]
	if session == nil {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (r *mockSessionRepository) RotateRefreshHash(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	if r.rotateFail {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[sessionID]
	if session == nil || session.RefreshTokenHash != oldHash {
		return false, nil
	}
	session.RefreshTokenHash = newHash
	session.ExpiresAt = expiresAt
	session.UpdatedAt = time.Now()
	return true, nil
}

func (r *mockSessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		delete(r.sessions, id)
		r.deleted = append(r.deleted, id)
	}
	return nil
}

func (r *mockSessionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var revoked int64
	for id, session := range r.sessions {
		if session.UserID == userID {
			delete(r.sessions, id)
			r.deleted = append(r.deleted, id)
			revoked++
		}
	}
	return revoked, nil
}

func (r *mockSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	now := time.Now()
	for id, session := range r.sessions {
		if session.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// mockThrottleRepository is a mock implementation of repository.LoginThrottleRepository
type mockThrottleRepository struct {
	ipCounts   map[string]int64
	acctCounts map[string]int64
	ttl        time.Duration
	incrError  error
	resets     []string
}

func newMockThrottleRepository() *mockThrottleRepository {
	return &mockThrottleRepository{
		ipCounts:   make(map[string]int64),
		acctCounts: make(map[string]int64),
		ttl:        15 * time.Minute,
	}
}

func (r *mockThrottleRepository) IncrIPAttempt(ctx context.Context, ip string) (int64, time.Duration, error) {
	if r.incrError != nil {
		return 0, 0, r.incrError
	}
	r.ipCounts[ip]++
	return r.ipCounts[ip], r.ttl, nil
}

func (r *mockThrottleRepository) IncrAccountAttempt(ctx context.Context, email string) (int64, time.Duration, error) {
	if r.incrError != nil {
		return 0, 0, r.incrError
	}
	r.acctCounts[email]++
	return r.acctCounts[email], r.ttl, nil
}

func (r *mockThrottleRepository) ResetAccountAttempts(ctx context.Context, email string) error {
	r.resets = append(r.resets, email)
	delete(r.acctCounts, email)
	return nil
}

// mockBreachChecker is a mock implementation of BreachChecker
type mockBreachChecker struct {
	breached bool
	err      error
	calls    int
}

func (c *mockBreachChecker) IsBreached(ctx context.Context, password string) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.breached, nil
}

// mockPublisher records security events in order
type mockPublisher struct {
	mu     sync.Mutex
	events []event.SecurityEvent
}

func (p *mockPublisher) Publish(ctx context.Context, ev event.SecurityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *mockPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Event == name {
			n++
		}
	}
	return n
}

func (p *mockPublisher) find(name string) *event.SecurityEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.events {
		if p.events[i].Event == name {
			return &p.events[i]
		}
	}
	return nil
}
