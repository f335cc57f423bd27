package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestExecuteThrottleFailsOpenWithoutRedis(t *testing.T) {
	throttle := NewExecuteThrottle(nil, "", 10, time.Minute)
	allowed, retryAfter, err := throttle.Allow(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("throttle without a redis client must allow")
	}
	if retryAfter != 0 {
		t.Fatalf("expected no retry delay, got %s", retryAfter)
	}
}

func TestExecuteThrottleDisabledByNonPositiveLimit(t *testing.T) {
	throttle := NewExecuteThrottle(nil, "yieldhive:throttle", 0, time.Minute)
	allowed, _, err := throttle.Allow(context.Background(), uuid.New())
	if err != nil || !allowed {
		t.Fatalf("zero limit should disable the throttle, got allowed=%v err=%v", allowed, err)
	}
}

func TestNewExecuteThrottleDefaults(t *testing.T) {
	throttle := NewExecuteThrottle(nil, "  custom:prefix: ", 5, 0)
	if throttle.prefix != "custom:prefix" {
		t.Fatalf("expected trimmed prefix, got %q", throttle.prefix)
	}
	if throttle.window != time.Minute {
		t.Fatalf("expected one minute default window, got %s", throttle.window)
	}

	throttle = NewExecuteThrottle(nil, "", 5, time.Minute)
	if throttle.prefix != defaultThrottlePrefix {
		t.Fatalf("expected default prefix, got %q", throttle.prefix)
	}
}

func TestWindowRemaining(t *testing.T) {
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"start of window", base, time.Minute},
		{"mid window", base.Add(10 * time.Second), 50 * time.Second},
		{"clamped near rollover", base.Add(59*time.Second + 800*time.Millisecond), time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := windowRemaining(tc.now, time.Minute); got != tc.want {
				t.Fatalf("windowRemaining(%s) = %s, want %s", tc.now, got, tc.want)
			}
		})
	}
}
