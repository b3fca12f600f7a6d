package service

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/statlinehq/statline-auth/internal/domain"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// AccessClaims carries the identity of a verified access token
type AccessClaims struct {
	UserID string      `json:"userId"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims carries only the session binding, never user identity
type RefreshClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// TokenConfig holds signing material and token parameters
type TokenConfig struct {
	PrivateKey      ed25519.PrivateKey
	PublicKey       ed25519.PublicKey
	Issuer          string
	AccessAudience  string
	RefreshAudience string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
}

// TokenService issues and verifies EdDSA-signed JWTs
type TokenService struct {
	config TokenConfig
}

// NewTokenService creates a new TokenService
func NewTokenService(config TokenConfig) *TokenService {
	if config.Issuer == "" {
		config.Issuer = "statline-auth"
	}
	if config.AccessAudience == "" {
		config.AccessAudience = "statline:web"
	}
	if config.RefreshAudience == "" {
		config.RefreshAudience = "statline:refresh"
	}
	if config.AccessTTL == 0 {
		config.AccessTTL = 15 * time.Minute
	}
	if config.RefreshTTL == 0 {
		config.RefreshTTL = 168 * time.Hour
	}
	return &TokenService{config: config}
}

// AccessTTL returns the configured access token lifetime
func (s *TokenService) AccessTTL() time.Duration {
	return s.config.AccessTTL
}

// RefreshTTL returns the configured refresh token lifetime
func (s *TokenService) RefreshTTL() time.Duration {
	return s.config.RefreshTTL
}

// GenerateAccessToken issues an access JWT carrying the user's identity
func (s *TokenService) GenerateAccessToken(user *domain.User) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{s.config.AccessAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTTL)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.config.PrivateKey)
}

// GenerateRefreshToken issues a refresh JWT bound to a session ID
func (s *TokenService) GenerateRefreshToken(sessionID string) (string, error) {
	now := time.Now()
	claims := &RefreshClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{s.config.RefreshAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.RefreshTTL)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.config.PrivateKey)
}

// VerifyAccessToken validates an access token and returns its claims.
// Expiry maps to ErrTokenExpired; every other failure, including a role
// outside the known set, maps to ErrTokenInvalid.
func (s *TokenService) VerifyAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithAudience(s.config.AccessAudience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyRefreshToken validates a refresh token and returns its claims
func (s *TokenService) VerifyRefreshToken(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithAudience(s.config.RefreshAudience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.SessionID == "" {
		claims.SessionID = claims.Subject
	}
	if claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *TokenService) keyFunc(token *jwt.Token) (interface{}, error) {
	return s.config.PublicKey, nil
}

// ParseEd25519PrivateKey decodes a PKCS#8 PEM-encoded Ed25519 private key
func ParseEd25519PrivateKey(pemData string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not Ed25519")
	}
	return key, nil
}

// ParseEd25519PublicKey decodes a PKIX PEM-encoded Ed25519 public key
func ParseEd25519PublicKey(pemData string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key is not Ed25519")
	}
	return key, nil
}
