/**
 * @description
 * Per-user throttle for the manual execute endpoint, backed by Redis so the
 * limit holds across service instances. Requests are counted in fixed
 * windows: the window boundary is computed here from the wall clock, and the
 * Redis key carries the window start, so each window is a fresh counter that
 * expires on its own.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 * - github.com/google/uuid: User ids key the counters.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultThrottlePrefix = "yieldhive:throttle"

// ExecuteThrottle limits how many manual executions a user may request per
// window.
type ExecuteThrottle struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewExecuteThrottle builds a throttle allowing limit requests per window per
// user. A non-positive window falls back to one minute; a non-positive limit
// disables the throttle.
func NewExecuteThrottle(client redis.UniversalClient, prefix string, limit int, window time.Duration) *ExecuteThrottle {
	cleanPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if cleanPrefix == "" {
		cleanPrefix = defaultThrottlePrefix
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ExecuteThrottle{
		client: client,
		prefix: cleanPrefix,
		limit:  limit,
		window: window,
	}
}

// Allow records one execution request for the user and reports whether it is
// within the window's limit. When the limit is exceeded, retryAfter is the
// time until the current window rolls over. A Redis failure returns
// allowed=true alongside the error: the throttle fails open and the caller
// decides how loudly to log it.
func (t *ExecuteThrottle) Allow(ctx context.Context, userID uuid.UUID) (allowed bool, retryAfter time.Duration, err error) {
	if t == nil || t.client == nil || t.limit <= 0 {
		return true, 0, nil
	}

	now := time.Now().UTC()
	windowStart := now.Truncate(t.window)
	key := fmt.Sprintf("%s:execute:%s:%d", t.prefix, userID, windowStart.Unix())

	pipe := t.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	// Each window key cleans itself up. Double the window leaves the counter
	// readable for a short while after rollover without accumulating keys.
	pipe.ExpireNX(ctx, key, 2*t.window)
	if _, execErr := pipe.Exec(ctx); execErr != nil {
		return true, 0, fmt.Errorf("execute throttle unavailable: %w", execErr)
	}

	if count.Val() <= int64(t.limit) {
		return true, 0, nil
	}
	return false, windowRemaining(now, t.window), nil
}

// windowRemaining is the time left until the fixed window containing now
// ends, clamped to at least one second so Retry-After is never zero.
func windowRemaining(now time.Time, window time.Duration) time.Duration {
	remaining := now.Truncate(window).Add(window).Sub(now)
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining
}
