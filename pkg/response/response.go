package response

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	// RetryAfter is seconds until a throttled client may retry.
	RetryAfter int64 `json:"retryAfter,omitempty"`
	// LockedUntil is the RFC3339 time a locked account unlocks.
	LockedUntil string `json:"lockedUntil,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

func Error(c *gin.Context, status int, code, message string, details string) {
	c.JSON(status, Response{
		Success: false,
		Error: &ErrorData{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// InternalError responds with a generic 500. The underlying error is the
// caller's to log; it never reaches the client.
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal Server Error", "")
}

func BadRequest(c *gin.Context, code, message string, details string) {
	Error(c, http.StatusBadRequest, code, message, details)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, "NOT_FOUND", message, "")
}

func Unauthorized(c *gin.Context, code, message string) {
	Error(c, http.StatusUnauthorized, code, message, "")
}

func Forbidden(c *gin.Context, code, message string) {
	Error(c, http.StatusForbidden, code, message, "")
}

func Conflict(c *gin.Context, code, message string) {
	Error(c, http.StatusConflict, code, message, "")
}

// TooManyRequests responds 429 with the retry window in both the
// Retry-After header and the error payload.
func TooManyRequests(c *gin.Context, retryAfter time.Duration) {
	seconds := int64(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", fmt.Sprintf("%d", seconds))
	c.JSON(http.StatusTooManyRequests, Response{
		Success: false,
		Error: &ErrorData{
			Code:       "RATE_LIMITED",
			Message:    "Too many attempts, slow down",
			RetryAfter: seconds,
		},
	})
}

// Locked responds 423 with the unlock time in the error payload.
func Locked(c *gin.Context, lockedUntil time.Time) {
	c.JSON(http.StatusLocked, Response{
		Success: false,
		Error: &ErrorData{
			Code:        "ACCOUNT_LOCKED",
			Message:     "Account temporarily locked",
			LockedUntil: lockedUntil.UTC().Format(time.RFC3339),
		},
	})
}
