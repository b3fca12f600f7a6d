package event

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Security event names published to the auth event stream
const (
	EventLoginSucceeded     = "auth.login.succeeded"
	EventLoginFailed        = "auth.login.failed"
	EventAccountLocked      = "auth.account.locked"
	EventSessionRevoked     = "auth.session.revoked"
	EventTokenReuse         = "auth.token.reuse"
	EventFingerprintChanged = "auth.fingerprint.changed"
	EventUserRegistered     = "auth.user.registered"
)

// SecurityEvent is the payload produced to the auth event stream.
// Emails travel only as a hash.
type SecurityEvent struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurredAt"`
	UserID     string    `json:"userId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	EmailHash  string    `json:"emailHash,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Key returns the partition key: user ID when known, session ID otherwise
func (e SecurityEvent) Key() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.SessionID
}

// HashEmail normalizes and hashes an email for event payloads
func HashEmail(email string) string {
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
