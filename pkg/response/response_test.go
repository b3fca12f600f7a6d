package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performResponse(fn func(c *gin.Context)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	fn(c)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestSuccess(t *testing.T) {
	w := performResponse(func(c *gin.Context) {
		Success(c, map[string]string{"hello": "world"})
	})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decode(t, w)
	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if resp.Error != nil {
		t.Errorf("Error = %v, want nil", resp.Error)
	}
}

func TestInternalError_HidesDetails(t *testing.T) {
	w := performResponse(func(c *gin.Context) {
		InternalError(c)
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	resp := decode(t, w)
	if resp.Error == nil {
		t.Fatal("Error = nil, want error data")
	}
	if resp.Error.Code != "INTERNAL_ERROR" {
		t.Errorf("Code = %q, want INTERNAL_ERROR", resp.Error.Code)
	}
	if resp.Error.Details != "" {
		t.Errorf("Details = %q, want empty", resp.Error.Details)
	}
}

func TestTooManyRequests(t *testing.T) {
	w := performResponse(func(c *gin.Context) {
		TooManyRequests(c, 90*time.Second)
	})

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "90" {
		t.Errorf("Retry-After = %q, want %q", got, "90")
	}

	resp := decode(t, w)
	if resp.Error.RetryAfter != 90 {
		t.Errorf("RetryAfter = %d, want 90", resp.Error.RetryAfter)
	}
	if resp.Error.Code != "RATE_LIMITED" {
		t.Errorf("Code = %q, want RATE_LIMITED", resp.Error.Code)
	}
}

func TestTooManyRequests_MinimumOneSecond(t *testing.T) {
	w := performResponse(func(c *gin.Context) {
		TooManyRequests(c, 200*time.Millisecond)
	})

	resp := decode(t, w)
	if resp.Error.RetryAfter != 1 {
		t.Errorf("RetryAfter = %d, want 1", resp.Error.RetryAfter)
	}
}

func TestLocked(t *testing.T) {
	until := time.Now().Add(30 * time.Minute)
	w := performResponse(func(c *gin.Context) {
		Locked(c, until)
	})

	if w.Code != http.StatusLocked {
		t.Errorf("status = %d, want %d", w.Code, http.StatusLocked)
	}

	resp := decode(t, w)
	if resp.Error.Code != "ACCOUNT_LOCKED" {
		t.Errorf("Code = %q, want ACCOUNT_LOCKED", resp.Error.Code)
	}

	parsed, err := time.Parse(time.RFC3339, resp.Error.LockedUntil)
	if err != nil {
		t.Fatalf("LockedUntil %q is not RFC3339: %v", resp.Error.LockedUntil, err)
	}
	if !parsed.After(time.Now()) {
		t.Errorf("LockedUntil %v is not in the future", parsed)
	}
}

func TestUnauthorized_CarriesCode(t *testing.T) {
	w := performResponse(func(c *gin.Context) {
		Unauthorized(c, "INVALID_CREDENTIALS", "Invalid email or password")
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	resp := decode(t, w)
	if resp.Error.Code != "INVALID_CREDENTIALS" {
		t.Errorf("Code = %q, want INVALID_CREDENTIALS", resp.Error.Code)
	}
}
