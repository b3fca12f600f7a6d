package service

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BreachChecker defines the interface for password breach screening
type BreachChecker interface {
	// IsBreached reports whether the password appears in a known breach corpus
	IsBreached(ctx context.Context, password string) (bool, error)
}

// HIBPChecker implements BreachChecker against the Have I Been Pwned range
// API. Only the first 5 hex chars of the SHA-1 digest leave the process;
// the full digest is matched locally against the returned suffixes.
type HIBPChecker struct {
	baseURL string
	client  *http.Client
}

// NewHIBPChecker creates a new HIBPChecker
func NewHIBPChecker(baseURL string, timeout time.Duration) *HIBPChecker {
	if baseURL == "" {
		baseURL = "https://api.pwnedpasswords.com/range"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HIBPChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// IsBreached queries the range endpoint for the password's digest prefix.
// Callers treat any returned error as "not breached"; a slow or down
// breach API must never block registration.
func (c *HIBPChecker) IsBreached(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix := digest[:5]
	suffix := digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+prefix, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("breach range query returned status %d", resp.StatusCode)
	}

	// Response lines are "SUFFIX:COUNT"
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		parts := strings.SplitN(strings.TrimSpace(scanner.Text()), ":", 2)
		if len(parts) == 0 {
			continue
		}
		if strings.EqualFold(parts[0], suffix) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}

	return false, nil
}

// NoopBreachChecker skips breach screening entirely
type NoopBreachChecker struct{}

// IsBreached always reports not breached
func (NoopBreachChecker) IsBreached(ctx context.Context, password string) (bool, error) {
	return false, nil
}

// Ensure implementations satisfy BreachChecker
var (
	_ BreachChecker = (*HIBPChecker)(nil)
	_ BreachChecker = (*NoopBreachChecker)(nil)
)
