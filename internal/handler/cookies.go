package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// AccessCookieName is the cookie carrying the short-lived access token
	AccessCookieName = "accessToken"
	// RefreshCookieName is the cookie carrying the rotating refresh token
	RefreshCookieName = "refreshToken"
)

// CookieWriterConfig holds auth cookie settings
type CookieWriterConfig struct {
	Domain string
	// Secure marks cookies HTTPS-only; on in production
	Secure      bool
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	DevLifetime time.Duration
}

// CookieWriter sets and clears the auth cookie pair. Both cookies are
// httpOnly and SameSite=Lax; scripts never see tokens.
type CookieWriter struct {
	config CookieWriterConfig
}

// NewCookieWriter creates a new CookieWriter
func NewCookieWriter(config CookieWriterConfig) *CookieWriter {
	if config.AccessTTL == 0 {
		config.AccessTTL = 15 * time.Minute
	}
	if config.RefreshTTL == 0 {
		config.RefreshTTL = 168 * time.Hour
	}
	return &CookieWriter{config: config}
}

// SetAuthCookies writes both tokens into their cookies
func (w *CookieWriter) SetAuthCookies(c *gin.Context, accessToken, refreshToken string) {
	w.set(c, AccessCookieName, accessToken, w.maxAge(w.config.AccessTTL))
	w.set(c, RefreshCookieName, refreshToken, w.maxAge(w.config.RefreshTTL))
}

// ClearAuthCookies expires both cookies with MaxAge -1 plus a zero
// Expires, whichever attribute the client honors
func (w *CookieWriter) ClearAuthCookies(c *gin.Context) {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   w.config.Domain,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			Secure:   w.config.Secure,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (w *CookieWriter) set(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   w.config.Domain,
		MaxAge:   maxAge,
		Secure:   w.config.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// maxAge stretches cookie retention outside production so local work
// does not demand a re-login every access TTL. The token inside still
// expires on schedule; the silent refresh path takes over from there.
func (w *CookieWriter) maxAge(ttl time.Duration) int {
	if !w.config.Secure && w.config.DevLifetime > ttl {
		ttl = w.config.DevLifetime
	}
	return int(ttl.Seconds())
}
