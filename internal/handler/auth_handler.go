package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/statlinehq/statline-auth/internal/domain"
	"github.com/statlinehq/statline-auth/internal/dto"
	"github.com/statlinehq/statline-auth/internal/service"
	"github.com/statlinehq/statline-auth/pkg/logger"
	"github.com/statlinehq/statline-auth/pkg/response"
)

// AuthHandler handles authentication HTTP requests
type AuthHandler struct {
	authService service.AuthService
	cookies     *CookieWriter
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService service.AuthService, cookies *CookieWriter) *AuthHandler {
	return &AuthHandler{authService: authService, cookies: cookies}
}

// Register handles account creation and signs the new account in
// POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return
	}

	if valid, msg := req.ValidateEmail(); !valid {
		response.BadRequest(c, "VALIDATION_ERROR", msg, "")
		return
	}
	if valid, msg := req.ValidatePassword(); !valid {
		response.BadRequest(c, "VALIDATION_ERROR", msg, "")
		return
	}

	result, err := h.authService.Register(c.Request.Context(), &req, ExtractClient(c))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmailExists):
			response.Conflict(c, "EMAIL_EXISTS", "An account with this email already exists")
		case errors.Is(err, service.ErrPasswordBreached):
			response.BadRequest(c, "PASSWORD_BREACHED", "This password has appeared in a data breach, choose another", "")
		default:
			logger.Get().Error(fmt.Sprintf("Register failed: %v", err))
			response.InternalError(c)
		}
		return
	}

	h.cookies.SetAuthCookies(c, result.AccessToken, result.RefreshToken)
	response.Created(c, dto.AuthData{AccessToken: result.AccessToken, User: result.User})
}

// Login handles credential sign-in
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "VALIDATION_ERROR", "Invalid request body", err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req, ExtractClient(c))
	if err != nil {
		var limited *service.RateLimitedError
		var locked *service.AccountLockedError
		switch {
		case errors.As(err, &limited):
			response.TooManyRequests(c, limited.RetryAfter)
		case errors.As(err, &locked):
			response.Locked(c, locked.LockedUntil)
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Unauthorized(c, "INVALID_CREDENTIALS", "Invalid email or password")
		case errors.Is(err, service.ErrUserInactive):
			response.Forbidden(c, "ACCOUNT_DISABLED", "This account is disabled")
		default:
			logger.Get().Error(fmt.Sprintf("Login failed: %v", err))
			response.InternalError(c)
		}
		return
	}

	h.cookies.SetAuthCookies(c, result.AccessToken, result.RefreshToken)
	response.Success(c, dto.AuthData{AccessToken: result.AccessToken, User: result.User})
}

// Refresh rotates the refresh token from its cookie and reissues the pair
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, _ := c.Cookie(RefreshCookieName)

	result, err := h.authService.Refresh(c.Request.Context(), raw, ExtractClient(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefreshRequired):
			response.Unauthorized(c, "REFRESH_REQUIRED", "Sign in to continue")
		case errors.Is(err, service.ErrRefreshExpired):
			h.cookies.ClearAuthCookies(c)
			response.Unauthorized(c, "REFRESH_EXPIRED", "Session expired, sign in again")
		case errors.Is(err, service.ErrRefreshInvalid):
			h.cookies.ClearAuthCookies(c)
			response.Unauthorized(c, "REFRESH_INVALID", "Session is no longer valid")
		case errors.Is(err, service.ErrUserInactive):
			h.cookies.ClearAuthCookies(c)
			response.Forbidden(c, "ACCOUNT_DISABLED", "This account is disabled")
		default:
			logger.Get().Error(fmt.Sprintf("Refresh failed: %v", err))
			response.InternalError(c)
		}
		return
	}

	h.cookies.SetAuthCookies(c, result.AccessToken, result.RefreshToken)
	response.Success(c, dto.AuthData{AccessToken: result.AccessToken, User: result.User})
}

// Logout revokes the current session. The client always ends up signed
// out: cookies are cleared even when revocation fails.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	raw, _ := c.Cookie(RefreshCookieName)

	if err := h.authService.Logout(c.Request.Context(), raw, ExtractClient(c)); err != nil {
		logger.Get().Warn(fmt.Sprintf("Logout revocation failed: %v", err))
	}

	h.cookies.ClearAuthCookies(c)
	response.Success(c, gin.H{"message": "Logged out"})
}

// LogoutAll revokes every session of the authenticated user
// POST /api/v1/auth/logout-all
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	raw := bearerToken(c)
	if raw == "" {
		response.Unauthorized(c, "TOKEN_INVALID", "Authorization header is required")
		return
	}

	claims, err := h.authService.VerifyAccess(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, service.ErrTokenExpired) {
			response.Unauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
			return
		}
		response.Unauthorized(c, "TOKEN_INVALID", "Invalid access token")
		return
	}

	revoked, err := h.authService.LogoutAll(c.Request.Context(), claims.UserID, ExtractClient(c))
	if err != nil {
		logger.Get().Error(fmt.Sprintf("Logout-all failed: %v", err))
		response.InternalError(c)
		return
	}

	h.cookies.ClearAuthCookies(c)
	response.Success(c, dto.LogoutAllData{RevokedSessions: revoked})
}

// Session reports who the access token says you are. Claims only, no
// database read, so revoked-but-unexpired tokens still answer here.
// GET /api/v1/auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	raw, _ := c.Cookie(AccessCookieName)
	if raw == "" {
		raw = bearerToken(c)
	}
	if raw == "" {
		response.Unauthorized(c, "TOKEN_INVALID", "No access token presented")
		return
	}

	claims, err := h.authService.VerifyAccess(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, service.ErrTokenExpired) {
			response.Unauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
			return
		}
		response.Unauthorized(c, "TOKEN_INVALID", "Invalid access token")
		return
	}

	response.Success(c, dto.SessionData{User: dto.SessionUser{
		ID:    claims.UserID,
		Email: claims.Email,
		Role:  string(claims.Role),
	}})
}

// ExtractClient collects the request attributes the auth flows bind to
func ExtractClient(c *gin.Context) service.ClientInfo {
	ua := c.GetHeader("User-Agent")
	return service.ClientInfo{
		IP:        c.ClientIP(),
		UserAgent: ua,
		Fingerprint: service.DeviceFingerprint(
			ua,
			c.GetHeader("Accept-Language"),
			c.GetHeader("Accept-Encoding"),
		),
	}
}

// bearerToken extracts the token from "Bearer <token>"
func bearerToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return header[len(bearerPrefix):]
}
