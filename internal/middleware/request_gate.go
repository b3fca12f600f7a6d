package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/statlinehq/statline-auth/internal/domain"
	"github.com/statlinehq/statline-auth/internal/handler"
	"github.com/statlinehq/statline-auth/internal/service"
	"github.com/statlinehq/statline-auth/pkg/logger"
)

const (
	// UserIDKey is the context key for the authenticated user ID
	UserIDKey = "user_id"
	// UserEmailKey is the context key for the authenticated email
	UserEmailKey = "user_email"
	// UserRoleKey is the context key for the authenticated role
	UserRoleKey = "user_role"

	userIDHeader    = "X-User-Id"
	userEmailHeader = "X-User-Email"
	userRoleHeader  = "X-User-Role"

	loginPath     = "/login"
	dashboardPath = "/dashboard"
)

// PathPolicy decides which path prefixes the gate guards. Public
// entries are exceptions carved out of Protected prefixes; paths
// matching nothing pass through untouched.
type PathPolicy struct {
	Protected []string
	Public    []string
	AdminOnly []string
}

// DefaultPathPolicy guards the app pages and the authenticated API
func DefaultPathPolicy() PathPolicy {
	return PathPolicy{
		Protected: []string{"/dashboard", "/account", "/api/v1/me"},
		Public:    []string{"/login", "/register", "/health", "/ready", "/api/v1/auth"},
		AdminOnly: []string{"/admin", "/api/v1/admin"},
	}
}

type gateAccess int

const (
	accessOpen gateAccess = iota
	accessProtected
	accessAdmin
)

func (p PathPolicy) classify(path string) gateAccess {
	for _, prefix := range p.Public {
		if strings.HasPrefix(path, prefix) {
			return accessOpen
		}
	}
	for _, prefix := range p.AdminOnly {
		if strings.HasPrefix(path, prefix) {
			return accessAdmin
		}
	}
	for _, prefix := range p.Protected {
		if strings.HasPrefix(path, prefix) {
			return accessProtected
		}
	}
	return accessOpen
}

// RequestGate authenticates guarded routes from the auth cookies the
// way the platform edge does. An expired access token is refreshed
// in-process from the refresh cookie before the browser ever sees a
// redirect; only an unusable session bounces to the login page.
func RequestGate(auth service.AuthService, cookies *handler.CookieWriter, policy PathPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		access := policy.classify(c.Request.URL.Path)
		if access == accessOpen {
			c.Next()
			return
		}

		rawAccess, _ := c.Cookie(handler.AccessCookieName)
		if rawAccess == "" {
			rawAccess = bearerToken(c)
		}

		if rawAccess != "" {
			claims, err := auth.VerifyAccess(c.Request.Context(), rawAccess)
			if err == nil {
				admit(c, access, claims.UserID, claims.Email, string(claims.Role))
				return
			}
			if !errors.Is(err, service.ErrTokenExpired) {
				// Tampered, foreign or malformed: no refresh attempt
				cookies.ClearAuthCookies(c)
				redirectToLogin(c, "invalid")
				return
			}
		}

		// Absent or expired access token: try the refresh cookie before
		// bouncing the browser
		rawRefresh, _ := c.Cookie(handler.RefreshCookieName)
		if rawRefresh != "" {
			result, err := auth.Refresh(c.Request.Context(), rawRefresh, handler.ExtractClient(c))
			if err == nil {
				cookies.SetAuthCookies(c, result.AccessToken, result.RefreshToken)
				admit(c, access, result.User.ID, result.User.Email, result.User.Role)
				return
			}
			logger.Get().Warn(fmt.Sprintf("Silent refresh failed: %v", err))
			redirectToLogin(c, "expired")
			return
		}

		redirectToLogin(c, "unauthenticated")
	}
}

// admit records the identity in the context and response headers, then
// enforces the admin boundary
func admit(c *gin.Context, access gateAccess, userID, email, role string) {
	if access == accessAdmin && role != string(domain.RoleAdmin) {
		c.Redirect(http.StatusFound, dashboardPath+"?error=admin_required")
		c.Abort()
		return
	}

	c.Set(UserIDKey, userID)
	c.Set(UserEmailKey, email)
	c.Set(UserRoleKey, role)
	c.Header(userIDHeader, userID)
	c.Header(userEmailHeader, email)
	c.Header(userRoleHeader, role)

	c.Next()
}

// redirectToLogin bounces to the login page carrying the reason and the
// original destination so login can return the user where they were
func redirectToLogin(c *gin.Context, reason string) {
	target := c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	location := loginPath + "?reason=" + reason + "&return=" + url.QueryEscape(target)
	c.Redirect(http.StatusFound, location)
	c.Abort()
}

func bearerToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return header[len(bearerPrefix):]
}

// GetUserID returns the authenticated user ID from context
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(UserIDKey); exists {
		if userID, ok := id.(string); ok {
			return userID
		}
	}
	return ""
}

// GetUserRole returns the authenticated role from context
func GetUserRole(c *gin.Context) string {
	if role, exists := c.Get(UserRoleKey); exists {
		if r, ok := role.(string); ok {
			return r
		}
	}
	return ""
}
