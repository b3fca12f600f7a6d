package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/statlinehq/statline-auth/internal/domain"
	"github.com/statlinehq/statline-auth/internal/dto"
	"github.com/statlinehq/statline-auth/internal/event"
	"github.com/statlinehq/statline-auth/internal/repository"
	"github.com/statlinehq/statline-auth/pkg/logger"
	"github.com/statlinehq/statline-auth/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserInactive       = errors.New("user is inactive")
	ErrPasswordBreached   = errors.New("password appears in a breach corpus")
	ErrRefreshRequired    = errors.New("refresh token required")
	ErrRefreshExpired     = errors.New("refresh token expired")
	ErrRefreshInvalid     = errors.New("refresh token invalid")
)

// ClientInfo captures the request attributes bound to a session
type ClientInfo struct {
	IP          string
	UserAgent   string
	Fingerprint string
}

// LoginResult carries the outcome of a successful authentication.
// The refresh token goes into its cookie only; response bodies carry
// just the access token and the user.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         dto.UserResponse
}

// AuthService defines the interface for authentication operations
type AuthService interface {
	// Register creates a new account and signs it in
	Register(ctx context.Context, req *dto.RegisterRequest, client ClientInfo) (*LoginResult, error)
	// Login authenticates credentials and opens a session
	Login(ctx context.Context, req *dto.LoginRequest, client ClientInfo) (*LoginResult, error)
	// Refresh rotates the session's refresh token and issues a new access token
	Refresh(ctx context.Context, rawRefresh string, client ClientInfo) (*LoginResult, error)
	// Logout revokes the session carried by the refresh token
	Logout(ctx context.Context, rawRefresh string, client ClientInfo) error
	// LogoutAll revokes every session of a user, returning the count
	LogoutAll(ctx context.Context, userID string, client ClientInfo) (int64, error)
	// VerifyAccess validates an access token and returns its claims
	VerifyAccess(ctx context.Context, raw string) (*AccessClaims, error)
}

// authService implements AuthService
type authService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	guard    *LoginGuard
	hasher   PasswordHasher
	breach   BreachChecker
	tokens   *TokenService
	events   event.Publisher
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	guard *LoginGuard,
	hasher PasswordHasher,
	breach BreachChecker,
	tokens *TokenService,
	events event.Publisher,
) AuthService {
	if breach == nil {
		breach = NoopBreachChecker{}
	}
	if events == nil {
		events = event.NoopPublisher{}
	}
	return &authService{
		users:    users,
		sessions: sessions,
		guard:    guard,
		hasher:   hasher,
		breach:   breach,
		tokens:   tokens,
		events:   events,
	}
}

// Register creates a new account and signs it in
func (s *authService) Register(ctx context.Context, req *dto.RegisterRequest, client ClientInfo) (*LoginResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.register")
	defer span.End()

	email := normalizeEmail(req.Email)

	breached, err := s.breach.IsBreached(ctx, req.Password)
	if err != nil {
		logger.Get().Warn(fmt.Sprintf("Breach check unavailable, continuing: %v", err))
	} else if breached {
		span.SetStatus(codes.Error, "password breached")
		return nil, ErrPasswordBreached
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrEmailExists) {
			span.SetStatus(codes.Error, "email exists")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("user_id", user.ID))

	result, err := s.openSession(ctx, user, client)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.events.Publish(ctx, event.SecurityEvent{
		Event:     event.EventUserRegistered,
		UserID:    user.ID,
		EmailHash: event.HashEmail(email),
		IP:        client.IP,
	})

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Login authenticates credentials and opens a session.
// Every path through here consumes exactly one throttle check and records
// exactly one failure or success.
func (s *authService) Login(ctx context.Context, req *dto.LoginRequest, client ClientInfo) (*LoginResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.login")
	defer span.End()

	email := normalizeEmail(req.Email)
	span.SetAttributes(attribute.String("client_ip", client.IP))

	// Throttle before user lookup and before any hash work
	if err := s.guard.CheckThrottle(ctx, client.IP, email); err != nil {
		s.recordFailure(ctx, nil, email, client, "rate_limited")
		span.SetStatus(codes.Error, "rate limited")
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if user == nil {
		// Unknown account: the throttle windows already consumed budget,
		// and the response is byte-identical to a wrong password.
		s.recordFailure(ctx, nil, email, client, "unknown_email")
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, ErrInvalidCredentials
	}

	span.SetAttributes(attribute.String("user_id", user.ID))

	if err := s.guard.CheckLockout(user); err != nil {
		// A lockout rejects even the correct password and still counts
		s.recordFailure(ctx, user, email, client, "locked")
		span.SetStatus(codes.Error, "account locked")
		return nil, err
	}

	if !user.IsActive {
		s.recordFailure(ctx, user, email, client, "inactive")
		span.SetStatus(codes.Error, "user inactive")
		return nil, ErrUserInactive
	}

	ok, verifyErr := s.hasher.Verify(req.Password, user.PasswordHash)
	if verifyErr != nil {
		logger.Get().Warn(fmt.Sprintf("Password verification error for user %s: %v", user.ID, verifyErr))
	}
	if !ok {
		s.recordFailure(ctx, user, email, client, "wrong_password")
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, ErrInvalidCredentials
	}

	// Silent upgrade of legacy or under-parameterized hashes
	if s.hasher.NeedsRehash(user.PasswordHash) {
		if upgraded, hashErr := s.hasher.Hash(req.Password); hashErr != nil {
			logger.Get().Warn(fmt.Sprintf("Failed to rehash password for user %s: %v", user.ID, hashErr))
		} else if updateErr := s.users.UpdatePasswordHash(ctx, user.ID, upgraded); updateErr != nil {
			logger.Get().Warn(fmt.Sprintf("Failed to store rehashed password for user %s: %v", user.ID, updateErr))
		}
	}

	if err := s.guard.RecordSuccess(ctx, user); err != nil {
		logger.Get().Warn(fmt.Sprintf("Failed to reset login failures for user %s: %v", user.ID, err))
	}

	result, err := s.openSession(ctx, user, client)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.events.Publish(ctx, event.SecurityEvent{
		Event:     event.EventLoginSucceeded,
		UserID:    user.ID,
		EmailHash: event.HashEmail(email),
		IP:        client.IP,
	})

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Refresh rotates the session's refresh token and issues a new access token
func (s *authService) Refresh(ctx context.Context, rawRefresh string, client ClientInfo) (*LoginResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.refresh")
	defer span.End()

	if rawRefresh == "" {
		span.SetStatus(codes.Error, "refresh token required")
		return nil, ErrRefreshRequired
	}

	claims, err := s.tokens.VerifyRefreshToken(rawRefresh)
	if err != nil {
		span.SetStatus(codes.Error, "refresh token rejected")
		if errors.Is(err, ErrTokenExpired) {
			return nil, ErrRefreshExpired
		}
		return nil, ErrRefreshInvalid
	}

	session, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if session == nil {
		span.SetStatus(codes.Error, "session not found")
		return nil, ErrRefreshInvalid
	}

	span.SetAttributes(attribute.String("user_id", session.UserID))

	if session.Expired(time.Now()) {
		_ = s.sessions.Delete(ctx, session.ID)
		span.SetStatus(codes.Error, "session expired")
		return nil, ErrRefreshExpired
	}

	// The token is valid JWT-wise; now it must also be the CURRENT token
	// of its session. A stale hash means it was already rotated away:
	// either a replay of an old token or theft. Revoke the whole session.
	presented := hashToken(rawRefresh)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(session.RefreshTokenHash)) != 1 {
		_ = s.sessions.Delete(ctx, session.ID)
		s.events.Publish(ctx, event.SecurityEvent{
			Event:     event.EventTokenReuse,
			UserID:    session.UserID,
			SessionID: session.ID,
			IP:        client.IP,
			Reason:    "refresh hash mismatch",
		})
		span.SetStatus(codes.Error, "refresh token reuse")
		return nil, ErrRefreshInvalid
	}

	// Fingerprint drift is a weak signal (browser updates change it):
	// log and continue, never hard-fail
	if client.Fingerprint != "" && session.DeviceFingerprint != "" && client.Fingerprint != session.DeviceFingerprint {
		logger.Get().Warn(fmt.Sprintf("Device fingerprint changed for session %s", session.ID))
		s.events.Publish(ctx, event.SecurityEvent{
			Event:     event.EventFingerprintChanged,
			UserID:    session.UserID,
			SessionID: session.ID,
			IP:        client.IP,
		})
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if user == nil {
		_ = s.sessions.Delete(ctx, session.ID)
		span.SetStatus(codes.Error, "user not found")
		return nil, ErrRefreshInvalid
	}
	if !user.IsActive {
		_ = s.sessions.Delete(ctx, session.ID)
		span.SetStatus(codes.Error, "user inactive")
		return nil, ErrUserInactive
	}

	newRefresh, err := s.tokens.GenerateRefreshToken(session.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rotated, err := s.sessions.RotateRefreshHash(ctx, session.ID, session.RefreshTokenHash, hashToken(newRefresh), time.Now().Add(s.tokens.RefreshTTL()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !rotated {
		// A concurrent refresh rotated first; fail closed without
		// touching cookies so the winner's tokens stay valid
		span.SetStatus(codes.Error, "rotation lost")
		return nil, ErrRefreshInvalid
	}

	accessToken, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		User:         toUserResponse(user),
	}, nil
}

// Logout revokes the session carried by the refresh token. Unusable
// tokens and unknown sessions are success: the caller clears cookies
// either way.
func (s *authService) Logout(ctx context.Context, rawRefresh string, client ClientInfo) error {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.logout")
	defer span.End()

	if rawRefresh == "" {
		span.SetStatus(codes.Ok, "no session")
		return nil
	}

	claims, err := s.tokens.VerifyRefreshToken(rawRefresh)
	if err != nil {
		span.SetStatus(codes.Ok, "token rejected")
		return nil
	}

	session, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if session == nil {
		span.SetStatus(codes.Ok, "already logged out")
		return nil
	}

	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.events.Publish(ctx, event.SecurityEvent{
		Event:     event.EventSessionRevoked,
		UserID:    session.UserID,
		SessionID: session.ID,
		IP:        client.IP,
		Reason:    "logout",
	})

	span.SetStatus(codes.Ok, "")
	return nil
}

// LogoutAll revokes every session of a user
func (s *authService) LogoutAll(ctx context.Context, userID string, client ClientInfo) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.auth.logout_all")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	revoked, err := s.sessions.DeleteByUserID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if revoked > 0 {
		s.events.Publish(ctx, event.SecurityEvent{
			Event:  event.EventSessionRevoked,
			UserID: userID,
			IP:     client.IP,
			Reason: fmt.Sprintf("logout_all revoked %d sessions", revoked),
		})
	}

	span.SetStatus(codes.Ok, "")
	return revoked, nil
}

// VerifyAccess validates an access token and returns its claims.
// Claims only, no user lookup.
func (s *authService) VerifyAccess(ctx context.Context, raw string) (*AccessClaims, error) {
	_, span := telemetry.StartSpan(ctx, "service.auth.verify_access")
	defer span.End()

	claims, err := s.tokens.VerifyAccessToken(raw)
	if err != nil {
		span.SetStatus(codes.Error, "token rejected")
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return claims, nil
}

// recordFailure registers one failed attempt: the durable counter for a
// known user (nil user means the Redis windows already took the hit),
// the login.failed event always, and account.locked when this failure
// engaged the lockout.
func (s *authService) recordFailure(ctx context.Context, user *domain.User, email string, client ClientInfo, reason string) {
	lockedUntil, err := s.guard.RecordFailure(ctx, user)
	if err != nil {
		logger.Get().Warn(fmt.Sprintf("Failed to record login failure: %v", err))
	}

	ev := event.SecurityEvent{
		Event:     event.EventLoginFailed,
		EmailHash: event.HashEmail(email),
		IP:        client.IP,
		Reason:    reason,
	}
	if user != nil {
		ev.UserID = user.ID
	}
	s.events.Publish(ctx, ev)

	if lockedUntil != nil {
		s.events.Publish(ctx, event.SecurityEvent{
			Event:  event.EventAccountLocked,
			UserID: user.ID,
			IP:     client.IP,
			Reason: fmt.Sprintf("locked until %s", lockedUntil.UTC().Format(time.RFC3339)),
		})
	}
}

// openSession creates a session row, the refresh token bound to it and
// the access token
func (s *authService) openSession(ctx context.Context, user *domain.User, client ClientInfo) (*LoginResult, error) {
	now := time.Now()
	session := &domain.Session{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		DeviceFingerprint: client.Fingerprint,
		IPAddress:         client.IP,
		UserAgent:         client.UserAgent,
		ExpiresAt:         now.Add(s.tokens.RefreshTTL()),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	refreshToken, err := s.tokens.GenerateRefreshToken(session.ID)
	if err != nil {
		return nil, err
	}
	session.RefreshTokenHash = hashToken(refreshToken)

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         toUserResponse(user),
	}, nil
}

// toUserResponse converts User to UserResponse
func toUserResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		Role:          string(user.Role),
		EmailVerified: user.EmailVerified,
	}
}

// normalizeEmail lowercases and trims an address for lookups and counters
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// hashToken returns the SHA-256 hex of a raw token; only this hash is
// ever persisted
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DeviceFingerprint hashes the stable client headers into a device signature
func DeviceFingerprint(userAgent, acceptLanguage, acceptEncoding string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + acceptLanguage + "|" + acceptEncoding))
	return hex.EncodeToString(sum[:])
}
