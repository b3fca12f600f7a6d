package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/statlinehq/statline-auth/internal/domain"
	"github.com/statlinehq/statline-auth/internal/dto"
	"github.com/statlinehq/statline-auth/internal/event"
	"golang.org/x/crypto/bcrypt"
)

type authFixture struct {
	users    *mockUserRepository
	sessions *mockSessionRepository
	throttle *mockThrottleRepository
	breach   *mockBreachChecker
	events   *mockPublisher
	hasher   PasswordHasher
	tokens   *TokenService
	svc      AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		users:    newMockUserRepository(),
		sessions: newMockSessionRepository(),
		throttle: newMockThrottleRepository(),
		breach:   &mockBreachChecker{},
		events:   &mockPublisher{},
		hasher:   NewArgon2Hasher(testArgon2Params()),
		tokens:   newTestTokenService(t, 15*time.Minute, 168*time.Hour),
	}
	guard := NewLoginGuard(f.throttle, f.users, DefaultLoginGuardConfig())
	f.svc = NewAuthService(f.users, f.sessions, guard, f.hasher, f.breach, f.tokens, f.events)
	return f
}

// seedUser adds an active user whose password is hashed with the fixture hasher
func (f *authFixture) seedUser(t *testing.T, email, password string) *domain.User {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := &domain.User{
		ID:           "id-" + email,
		Email:        email,
		DisplayName:  "Test User",
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.users.add(user)
	return user
}

// sessionOf resolves the session row a refresh token points at
func (f *authFixture) sessionOf(t *testing.T, rawRefresh string) *domain.Session {
	t.Helper()
	claims, err := f.tokens.VerifyRefreshToken(rawRefresh)
	if err != nil {
		t.Fatalf("Failed to parse refresh token: %v", err)
	}
	session := f.sessions.sessions[claims.SessionID]
	if session == nil {
		t.Fatalf("Session %s not found", claims.SessionID)
	}
	return session
}

func testClient() ClientInfo {
	ua := "Mozilla/5.0 (X11; Linux x86_64)"
	return ClientInfo{
		IP:          "203.0.113.7",
		UserAgent:   ua,
		Fingerprint: DeviceFingerprint(ua, "en-US", "gzip, br"),
	}
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("successful login opens a session", func(t *testing.T) {
		f := newAuthFixture(t)
		user := f.seedUser(t, "fan@example.com", "Sup3rSecret")

		result, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, testClient())
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}

		claims, err := f.tokens.VerifyAccessToken(result.AccessToken)
		if err != nil {
			t.Fatalf("Access token does not verify: %v", err)
		}
		if claims.UserID != user.ID {
			t.Errorf("Access token user = %v, want %v", claims.UserID, user.ID)
		}

		session := f.sessionOf(t, result.RefreshToken)
		if session.UserID != user.ID {
			t.Errorf("Session user = %v, want %v", session.UserID, user.ID)
		}
		if session.RefreshTokenHash != hashToken(result.RefreshToken) {
			t.Error("Session stores a hash of a different refresh token")
		}
		if session.RefreshTokenHash == result.RefreshToken {
			t.Error("Session stored the raw refresh token")
		}
		if session.DeviceFingerprint != testClient().Fingerprint {
			t.Error("Session fingerprint does not match the client")
		}

		if result.User.Email != "fan@example.com" {
			t.Errorf("User.Email = %v, want fan@example.com", result.User.Email)
		}

		ev := f.events.find(event.EventLoginSucceeded)
		if ev == nil {
			t.Fatal("login succeeded event not published")
		}
		if ev.UserID != user.ID {
			t.Errorf("event UserID = %v, want %v", ev.UserID, user.ID)
		}
		if strings.Contains(ev.EmailHash, "@") || len(ev.EmailHash) != 64 {
			t.Errorf("event EmailHash %q leaks the address", ev.EmailHash)
		}
	})

	t.Run("email is normalized before lookup", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedUser(t, "fan@example.com", "Sup3rSecret")

		_, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "  Fan@EXAMPLE.com ", Password: "Sup3rSecret"}, testClient())
		if err != nil {
			t.Errorf("Login() error = %v, want nil for case-variant email", err)
		}
	})

	t.Run("unknown email and wrong password fail identically", func(t *testing.T) {
		f := newAuthFixture(t)
		user := f.seedUser(t, "fan@example.com", "Sup3rSecret")

		_, unknownErr := f.svc.Login(ctx, &dto.LoginRequest{Email: "ghost@example.com", Password: "Sup3rSecret"}, testClient())
		_, wrongErr := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "WrongSecret1"}, testClient())

		if unknownErr != ErrInvalidCredentials {
			t.Errorf("unknown email error = %v, want ErrInvalidCredentials", unknownErr)
		}
		if wrongErr != ErrInvalidCredentials {
			t.Errorf("wrong password error = %v, want ErrInvalidCredentials", wrongErr)
		}

		// Only the known account accrues a durable failure
		if user.FailedLoginAttempts != 1 {
			t.Errorf("FailedLoginAttempts = %d, want 1", user.FailedLoginAttempts)
		}
		if f.events.count(event.EventLoginFailed) != 2 {
			t.Errorf("login failed events = %d, want 2", f.events.count(event.EventLoginFailed))
		}
	})

	t.Run("throttle rejects before credentials are touched", func(t *testing.T) {
		f := newAuthFixture(t)
		f.throttle.acctCounts["fan@example.com"] = 5

		// The account does not even exist; a credential-first flow would
		// say invalid credentials here
		_, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "whatever1A"}, testClient())
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("Login() error = %v, want ErrRateLimited", err)
		}

		ev := f.events.find(event.EventLoginFailed)
		if ev == nil {
			t.Fatal("login failed event not published")
		}
		if ev.Reason != "rate_limited" {
			t.Errorf("event Reason = %q, want rate_limited", ev.Reason)
		}
		if ev.UserID != "" {
			t.Errorf("event UserID = %q, want empty before lookup", ev.UserID)
		}
	})

	t.Run("lockout engages on the fifth failure and holds", func(t *testing.T) {
		f := newAuthFixture(t)
		user := f.seedUser(t, "fan@example.com", "Sup3rSecret")

		for i := 0; i < 5; i++ {
			// Rotate IPs so the lockout, not the throttle, is exercised
			client := testClient()
			client.IP = "198.51.100." + string(rune('1'+i))
			_, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "WrongSecret1"}, client)
			if err != ErrInvalidCredentials {
				t.Fatalf("attempt %d error = %v, want ErrInvalidCredentials", i+1, err)
			}
		}

		if user.LockedUntil == nil {
			t.Fatal("five failures did not lock the account")
		}
		if f.events.count(event.EventAccountLocked) != 1 {
			t.Errorf("account locked events = %d, want 1", f.events.count(event.EventAccountLocked))
		}

		// The durable lock holds even after the redis window expires,
		// and the correct password still fails and still counts
		delete(f.throttle.acctCounts, "fan@example.com")
		before := user.FailedLoginAttempts
		_, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, ClientInfo{IP: "198.51.100.9"})
		if !errors.Is(err, ErrAccountLocked) {
			t.Fatalf("locked login error = %v, want ErrAccountLocked", err)
		}
		if user.FailedLoginAttempts != before+1 {
			t.Errorf("FailedLoginAttempts = %d, want %d", user.FailedLoginAttempts, before+1)
		}
		if f.events.count(event.EventAccountLocked) != 1 {
			t.Error("lock re-engagement published a second locked event")
		}
	})

	t.Run("inactive account rejects the correct password", func(t *testing.T) {
		f := newAuthFixture(t)
		user := f.seedUser(t, "fan@example.com", "Sup3rSecret")
		user.IsActive = false

		_, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, testClient())
		if err != ErrUserInactive {
			t.Fatalf("Login() error = %v, want ErrUserInactive", err)
		}
		if user.FailedLoginAttempts != 1 {
			t.Errorf("FailedLoginAttempts = %d, want 1", user.FailedLoginAttempts)
		}
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		f := newAuthFixture(t)
		user := f.seedUser(t, "fan@example.com", "Sup3rSecret")
		user.FailedLoginAttempts = 3

		_, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, testClient())
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if user.FailedLoginAttempts != 0 {
			t.Errorf("FailedLoginAttempts = %d, want 0", user.FailedLoginAttempts)
		}
		if len(f.throttle.resets) == 0 {
			t.Error("account attempt window was not reset")
		}
	})

	t.Run("legacy bcrypt hash verifies and upgrades silently", func(t *testing.T) {
		f := newAuthFixture(t)
		legacy, err := bcrypt.GenerateFromPassword([]byte("Sup3rSecret"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("Failed to generate bcrypt hash: %v", err)
		}
		user := &domain.User{
			ID:           "id-legacy",
			Email:        "legacy@example.com",
			PasswordHash: string(legacy),
			Role:         domain.RoleUser,
			IsActive:     true,
		}
		f.users.add(user)

		result, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "legacy@example.com", Password: "Sup3rSecret"}, testClient())
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if result.AccessToken == "" {
			t.Error("Login() AccessToken is empty")
		}

		upgraded := f.users.rehashed[user.ID]
		if upgraded == "" {
			t.Fatal("legacy hash was not upgraded")
		}
		if !strings.HasPrefix(upgraded, "$argon2id$") {
			t.Errorf("upgraded hash %q is not argon2id", upgraded[:12])
		}

		// The stored hash changed under the same password
		if _, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "legacy@example.com", Password: "Sup3rSecret"}, testClient()); err != nil {
			t.Errorf("Login() after upgrade error = %v", err)
		}
	})
}

func TestAuthService_Refresh(t *testing.T) {
	ctx := context.Background()

	login := func(t *testing.T, f *authFixture) *LoginResult {
		t.Helper()
		f.seedUser(t, "fan@example.com", "Sup3rSecret")
		result, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, testClient())
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		return result
	}

	t.Run("rotation issues new tokens against the same session", func(t *testing.T) {
		f := newAuthFixture(t)
		first := login(t, f)
		firstSession := f.sessionOf(t, first.RefreshToken)

		result, err := f.svc.Refresh(ctx, first.RefreshToken, testClient())
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if result.RefreshToken == first.RefreshToken {
			t.Error("Refresh() returned the same refresh token")
		}
		if result.AccessToken == "" {
			t.Error("Refresh() AccessToken is empty")
		}

		rotated := f.sessionOf(t, result.RefreshToken)
		if rotated.ID != firstSession.ID {
			t.Errorf("Refresh() moved to session %v, want %v", rotated.ID, firstSession.ID)
		}
		if rotated.RefreshTokenHash != hashToken(result.RefreshToken) {
			t.Error("session hash was not rotated to the new token")
		}
	})

	t.Run("absent token", func(t *testing.T) {
		f := newAuthFixture(t)
		_, err := f.svc.Refresh(ctx, "", testClient())
		if err != ErrRefreshRequired {
			t.Errorf("Refresh() error = %v, want ErrRefreshRequired", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		f := newAuthFixture(t)
		_, err := f.svc.Refresh(ctx, "not-a-jwt", testClient())
		if err != ErrRefreshInvalid {
			t.Errorf("Refresh() error = %v, want ErrRefreshInvalid", err)
		}
	})

	t.Run("expired token maps to refresh expired", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("Failed to generate keypair: %v", err)
		}
		live := NewTokenService(TokenConfig{PrivateKey: priv, PublicKey: pub, AccessTTL: 15 * time.Minute, RefreshTTL: 168 * time.Hour})
		stale := NewTokenService(TokenConfig{PrivateKey: priv, PublicKey: pub, AccessTTL: 15 * time.Minute, RefreshTTL: -time.Minute})

		users := newMockUserRepository()
		throttle := newMockThrottleRepository()
		guard := NewLoginGuard(throttle, users, DefaultLoginGuardConfig())
		svc := NewAuthService(users, newMockSessionRepository(), guard, NewArgon2Hasher(testArgon2Params()), nil, live, nil)

		raw, err := stale.GenerateRefreshToken("session-1")
		if err != nil {
			t.Fatalf("GenerateRefreshToken() error = %v", err)
		}

		_, err = svc.Refresh(ctx, raw, testClient())
		if err != ErrRefreshExpired {
			t.Errorf("Refresh() error = %v, want ErrRefreshExpired", err)
		}
	})

	t.Run("expired session row is deleted", func(t *testing.T) {
		f := newAuthFixture(t)
		first := login(t, f)
		session := f.sessionOf(t, first.RefreshToken)
		session.ExpiresAt = time.Now().Add(-time.Hour)

		_, err := f.svc.Refresh(ctx, first.RefreshToken, testClient())
		if err != ErrRefreshExpired {
			t.Fatalf("Refresh() error = %v, want ErrRefreshExpired", err)
		}
		if f.sessions.sessions[session.ID] != nil {
			t.Error("expired session row was not deleted")
		}
	})

	t.Run("reuse of a rotated token revokes the session", func(t *testing.T) {
		f := newAuthFixture(t)
		first := login(t, f)
		session := f.sessionOf(t, first.RefreshToken)

		if _, err := f.svc.Refresh(ctx, first.RefreshToken, testClient()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}

		// Replay the pre-rotation token
		_, err := f.svc.Refresh(ctx, first.RefreshToken, testClient())
		if err != ErrRefreshInvalid {
			t.Fatalf("replayed Refresh() error = %v, want ErrRefreshInvalid", err)
		}
		if f.sessions.sessions[session.ID] != nil {
			t.Error("session survived a token reuse")
		}

		ev := f.events.find(event.EventTokenReuse)
		if ev == nil {
			t.Fatal("token reuse event not published")
		}
		if ev.SessionID != session.ID {
			t.Errorf("event SessionID = %v, want %v", ev.SessionID, session.ID)
		}
	})

	t.Run("fingerprint drift logs an event and proceeds", func(t *testing.T) {
		f := newAuthFixture(t)
		first := login(t, f)

		moved := testClient()
		moved.Fingerprint = DeviceFingerprint("Mozilla/5.0 (Windows NT 10.0)", "en-GB", "gzip")

		result, err := f.svc.Refresh(ctx, first.RefreshToken, moved)
		if err != nil {
			t.Fatalf("Refresh() error = %v, drift must not block", err)
		}
		if result.AccessToken == "" {
			t.Error("Refresh() AccessToken is empty")
		}
		if f.events.count(event.EventFingerprintChanged) != 1 {
			t.Errorf("fingerprint changed events = %d, want 1", f.events.count(event.EventFingerprintChanged))
		}
	})

	t.Run("losing the rotation race fails closed", func(t *testing.T) {
		f := newAuthFixture(t)
		first := login(t, f)
		session := f.sessionOf(t, first.RefreshToken)
		f.sessions.rotateFail = true

		_, err := f.svc.Refresh(ctx, first.RefreshToken, testClient())
		if err != ErrRefreshInvalid {
			t.Fatalf("Refresh() error = %v, want ErrRefreshInvalid", err)
		}
		// The winner's session must survive
		if f.sessions.sessions[session.ID] == nil {
			t.Error("losing the race deleted the session")
		}
	})

	t.Run("deactivated user is cut off", func(t *testing.T) {
		f := newAuthFixture(t)
		first := login(t, f)
		session := f.sessionOf(t, first.RefreshToken)
		f.users.users["id-fan@example.com"].IsActive = false

		_, err := f.svc.Refresh(ctx, first.RefreshToken, testClient())
		if err != ErrUserInactive {
			t.Fatalf("Refresh() error = %v, want ErrUserInactive", err)
		}
		if f.sessions.sessions[session.ID] != nil {
			t.Error("session survived user deactivation")
		}
	})

	t.Run("deleted user is cut off", func(t *testing.T) {
		f := newAuthFixture(t)
		first := login(t, f)
		session := f.sessionOf(t, first.RefreshToken)
		delete(f.users.users, "id-fan@example.com")
		delete(f.users.emailIndex, "fan@example.com")

		_, err := f.svc.Refresh(ctx, first.RefreshToken, testClient())
		if err != ErrRefreshInvalid {
			t.Fatalf("Refresh() error = %v, want ErrRefreshInvalid", err)
		}
		if f.sessions.sessions[session.ID] != nil {
			t.Error("session survived user deletion")
		}
	})
}

// Two concurrent refreshes with the same token must produce exactly one
// usable result; the loser fails closed whichever interleaving it hits.
func TestAuthService_ConcurrentRefresh(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.seedUser(t, "fan@example.com", "Sup3rSecret")
	first, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, testClient())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*LoginResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Refresh(ctx, first.RefreshToken, testClient())
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < 2; i++ {
		if errs[i] == nil {
			winners++
			if results[i].AccessToken == "" || results[i].RefreshToken == "" {
				t.Error("winning refresh returned empty tokens")
			}
		} else if errs[i] != ErrRefreshInvalid {
			t.Errorf("losing refresh error = %v, want ErrRefreshInvalid", errs[i])
		}
	}
	if winners != 1 {
		t.Fatalf("concurrent refreshes produced %d winners, want exactly 1", winners)
	}
}

func TestAuthService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes the session", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedUser(t, "fan@example.com", "Sup3rSecret")
		result, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, testClient())
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		session := f.sessionOf(t, result.RefreshToken)

		if err := f.svc.Logout(ctx, result.RefreshToken, testClient()); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}
		if f.sessions.sessions[session.ID] != nil {
			t.Error("session survived logout")
		}

		ev := f.events.find(event.EventSessionRevoked)
		if ev == nil {
			t.Fatal("session revoked event not published")
		}
		if ev.Reason != "logout" {
			t.Errorf("event Reason = %q, want logout", ev.Reason)
		}
	})

	t.Run("absent token succeeds", func(t *testing.T) {
		f := newAuthFixture(t)
		if err := f.svc.Logout(ctx, "", testClient()); err != nil {
			t.Errorf("Logout() error = %v, want nil", err)
		}
	})

	t.Run("garbage token succeeds", func(t *testing.T) {
		f := newAuthFixture(t)
		if err := f.svc.Logout(ctx, "not-a-jwt", testClient()); err != nil {
			t.Errorf("Logout() error = %v, want nil", err)
		}
	})

	t.Run("already revoked session succeeds", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedUser(t, "fan@example.com", "Sup3rSecret")
		result, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, testClient())
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}

		if err := f.svc.Logout(ctx, result.RefreshToken, testClient()); err != nil {
			t.Fatalf("Logout() error = %v", err)
		}
		if err := f.svc.Logout(ctx, result.RefreshToken, testClient()); err != nil {
			t.Errorf("second Logout() error = %v, want nil", err)
		}
	})
}

func TestAuthService_LogoutAll(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	user := f.seedUser(t, "fan@example.com", "Sup3rSecret")
	other := f.seedUser(t, "other@example.com", "Sup3rSecret")

	for i := 0; i < 2; i++ {
		client := testClient()
		client.IP = "198.51.100." + string(rune('1'+i))
		if _, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, client); err != nil {
			t.Fatalf("Login() error = %v", err)
		}
	}
	otherResult, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "other@example.com", Password: "Sup3rSecret"}, testClient())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	revoked, err := f.svc.LogoutAll(ctx, user.ID, testClient())
	if err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if revoked != 2 {
		t.Errorf("LogoutAll() revoked = %d, want 2", revoked)
	}

	// The other account's session is untouched
	otherSession := f.sessionOf(t, otherResult.RefreshToken)
	if otherSession.UserID != other.ID {
		t.Errorf("surviving session user = %v, want %v", otherSession.UserID, other.ID)
	}
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the account and signs it in", func(t *testing.T) {
		f := newAuthFixture(t)
		req := &dto.RegisterRequest{Email: "new@example.com", Password: "Sup3rSecret", DisplayName: "New Fan"}

		result, err := f.svc.Register(ctx, req, testClient())
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		user := f.users.emailIndex["new@example.com"]
		if user == nil {
			t.Fatal("user was not created")
		}
		if !strings.HasPrefix(user.PasswordHash, "$argon2id$") {
			t.Errorf("stored hash is not argon2id")
		}
		if user.Role != domain.RoleUser {
			t.Errorf("Role = %v, want user", user.Role)
		}
		if !user.IsActive {
			t.Error("new user is not active")
		}

		if result.AccessToken == "" {
			t.Error("Register() AccessToken is empty")
		}
		session := f.sessionOf(t, result.RefreshToken)
		if session.UserID != user.ID {
			t.Errorf("session user = %v, want %v", session.UserID, user.ID)
		}

		if f.events.count(event.EventUserRegistered) != 1 {
			t.Errorf("registered events = %d, want 1", f.events.count(event.EventUserRegistered))
		}
	})

	t.Run("email is normalized before storage", func(t *testing.T) {
		f := newAuthFixture(t)
		req := &dto.RegisterRequest{Email: "  Fan@EXAMPLE.com ", Password: "Sup3rSecret", DisplayName: "Fan"}

		if _, err := f.svc.Register(ctx, req, testClient()); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if f.users.emailIndex["fan@example.com"] == nil {
			t.Error("address was not stored lowercase and trimmed")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		f := newAuthFixture(t)
		req := &dto.RegisterRequest{Email: "new@example.com", Password: "Sup3rSecret", DisplayName: "New Fan"}

		if _, err := f.svc.Register(ctx, req, testClient()); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		_, err := f.svc.Register(ctx, req, testClient())
		if !errors.Is(err, domain.ErrEmailExists) {
			t.Errorf("Register() error = %v, want ErrEmailExists", err)
		}
	})

	t.Run("breached password is refused", func(t *testing.T) {
		f := newAuthFixture(t)
		f.breach.breached = true
		req := &dto.RegisterRequest{Email: "new@example.com", Password: "Password123", DisplayName: "New Fan"}

		_, err := f.svc.Register(ctx, req, testClient())
		if err != ErrPasswordBreached {
			t.Fatalf("Register() error = %v, want ErrPasswordBreached", err)
		}
		if f.users.emailIndex["new@example.com"] != nil {
			t.Error("user was created despite the breached password")
		}
	})

	t.Run("breach checker outage does not block registration", func(t *testing.T) {
		f := newAuthFixture(t)
		f.breach.err = errors.New("request timeout")
		req := &dto.RegisterRequest{Email: "new@example.com", Password: "Sup3rSecret", DisplayName: "New Fan"}

		if _, err := f.svc.Register(ctx, req, testClient()); err != nil {
			t.Fatalf("Register() error = %v, want nil when the breach API is down", err)
		}
		if f.breach.calls != 1 {
			t.Errorf("breach checker calls = %d, want 1", f.breach.calls)
		}
	})
}

func TestAuthService_VerifyAccess(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	user := f.seedUser(t, "fan@example.com", "Sup3rSecret")

	result, err := f.svc.Login(ctx, &dto.LoginRequest{Email: "fan@example.com", Password: "Sup3rSecret"}, testClient())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	claims, err := f.svc.VerifyAccess(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}
	if claims.UserID != user.ID {
		t.Errorf("claims UserID = %v, want %v", claims.UserID, user.ID)
	}
	if claims.Role != domain.RoleUser {
		t.Errorf("claims Role = %v, want user", claims.Role)
	}

	if _, err := f.svc.VerifyAccess(ctx, "garbage"); err != ErrTokenInvalid {
		t.Errorf("VerifyAccess() error = %v, want ErrTokenInvalid", err)
	}
}

func TestDeviceFingerprint(t *testing.T) {
	a := DeviceFingerprint("Mozilla/5.0", "en-US", "gzip")
	b := DeviceFingerprint("Mozilla/5.0", "en-US", "gzip")
	c := DeviceFingerprint("Mozilla/6.0", "en-US", "gzip")

	if a != b {
		t.Error("same headers produced different fingerprints")
	}
	if a == c {
		t.Error("different user agents produced the same fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}
