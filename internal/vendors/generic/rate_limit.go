package generic

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/misc"
)

// lowWatermark is the amount of remaining tokens at which requests are paused
// until the vendor reported reset time.
const lowWatermark = 50

// RateLimiter is a vendor agnostic limiter for input tokens.
// It parses rate limit headers and pauses requests when the limit is hit.
// It complements the client side request pacing, which can't know about
// limits shared with other clients of the same key.
type RateLimiter struct {
	remainingHeader string
	resetHeader     string

	mu              sync.Mutex
	remainingTokens int
	resetTokens     time.Time

	debug bool
}

// NewRateLimiter creates a new limiter using the provided header names.
// Empty header names yields a limiter which never waits.
func NewRateLimiter(remainingHeader, resetHeader string) *RateLimiter {
	rl := &RateLimiter{
		remainingHeader: strings.ToLower(remainingHeader),
		resetHeader:     strings.ToLower(resetHeader),
	}
	if misc.Truthy(os.Getenv("DEBUG")) || misc.Truthy(os.Getenv("DEBUG_RATE_LIMIT")) {
		rl.debug = true
	}
	return rl
}

// UpdateFromHeaders extracts rate limit information from an HTTP response.
// It resets previous values to avoid stale data.
// If the required headers are missing or malformed an error is returned.
func (r *RateLimiter) UpdateFromHeaders(h http.Header) error {
	if r == nil || r.remainingHeader == "" || r.resetHeader == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remainingTokens = 0
	r.resetTokens = time.Time{}

	remStr := h.Get(r.remainingHeader)
	if remStr == "" {
		return fmt.Errorf("missing header '%s'", r.remainingHeader)
	}
	rem, err := strconv.Atoi(remStr)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", r.remainingHeader, err)
	}
	r.remainingTokens = rem

	resetStr := h.Get(r.resetHeader)
	if resetStr == "" {
		return fmt.Errorf("missing header '%s'", r.resetHeader)
	}

	if dur, err := time.ParseDuration(resetStr); err == nil {
		r.resetTokens = time.Now().Add(dur)
	} else if ts, err2 := strconv.ParseInt(resetStr, 10, 64); err2 == nil {
		r.resetTokens = time.Unix(ts, 0)
	} else if sec, err3 := strconv.ParseFloat(resetStr, 64); err3 == nil {
		r.resetTokens = time.Now().Add(time.Duration(sec * float64(time.Second)))
	} else if at, err4 := time.Parse(time.RFC3339, resetStr); err4 == nil {
		r.resetTokens = at
	} else {
		return fmt.Errorf("failed to parse %s: '%v'", r.resetHeader, resetStr)
	}
	return nil
}

// WaitIfNeeded pauses execution when close to the rate limit.
func (r *RateLimiter) WaitIfNeeded(ctx context.Context) {
	if r == nil || r.remainingHeader == "" {
		return
	}
	r.mu.Lock()
	remaining, reset := r.remainingTokens, r.resetTokens
	r.mu.Unlock()
	if remaining > lowWatermark || reset.IsZero() {
		return
	}

	waitDuration := time.Until(reset)
	if waitDuration <= 0 {
		return
	}
	ancli.Warnf("rate limit reached, waiting %v\n", waitDuration.Round(time.Second))
	timer := time.NewTimer(waitDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
