package app

import (
	"testing"
	"time"

	"github.com/yieldhive/automation-service/internal/domain"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("failed to parse time %q: %v", value, err)
	}
	return parsed
}

func TestNextActivation_Weekly(t *testing.T) {
	from := mustTime(t, "2024-03-04T09:30:00Z")
	got := NextActivation(domain.TriggerWeekly, from)
	want := mustTime(t, "2024-03-11T09:30:00Z")
	if !got.Equal(want) {
		t.Fatalf("weekly: got %v, want %v", got, want)
	}
}

func TestNextActivation_MonthlyClampsToShorterMonth(t *testing.T) {
	cases := []struct {
		name string
		from string
		want string
	}{
		{"plain month", "2024-03-15T12:00:00Z", "2024-04-15T12:00:00Z"},
		{"jan 31 leap year", "2024-01-31T08:00:00Z", "2024-02-29T08:00:00Z"},
		{"jan 31 non-leap year", "2023-01-31T08:00:00Z", "2023-02-28T08:00:00Z"},
		{"may 31 to june 30", "2024-05-31T23:59:59Z", "2024-06-30T23:59:59Z"},
		{"year rollover", "2024-12-31T00:00:00Z", "2025-01-31T00:00:00Z"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NextActivation(domain.TriggerMonthly, mustTime(t, c.from))
			want := mustTime(t, c.want)
			if !got.Equal(want) {
				t.Fatalf("got %v, want %v", got, want)
			}
		})
	}
}

func TestNextActivation_QuarterlyClampsToShorterMonth(t *testing.T) {
	cases := []struct {
		name string
		from string
		want string
	}{
		{"plain quarter", "2024-01-15T12:00:00Z", "2024-04-15T12:00:00Z"},
		{"nov 30 to feb 29 leap", "2023-11-30T10:00:00Z", "2024-02-29T10:00:00Z"},
		{"nov 30 to feb 28 non-leap", "2024-11-30T10:00:00Z", "2025-02-28T10:00:00Z"},
		{"year rollover", "2024-10-31T06:00:00Z", "2025-01-31T06:00:00Z"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NextActivation(domain.TriggerQuarterly, mustTime(t, c.from))
			want := mustTime(t, c.want)
			if !got.Equal(want) {
				t.Fatalf("got %v, want %v", got, want)
			}
		})
	}
}

func TestNextActivation_ProfitThresholdPollsDaily(t *testing.T) {
	from := mustTime(t, "2024-06-01T18:45:00Z")
	got := NextActivation(domain.TriggerProfitThreshold, from)
	want := from.Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("threshold: got %v, want %v", got, want)
	}
}

func TestNextActivation_StrictlyAfterReference(t *testing.T) {
	from := mustTime(t, "2024-02-29T00:00:00Z")
	for _, trigger := range []domain.TriggerKind{
		domain.TriggerWeekly,
		domain.TriggerMonthly,
		domain.TriggerQuarterly,
		domain.TriggerProfitThreshold,
	} {
		if got := NextActivation(trigger, from); !got.After(from) {
			t.Errorf("trigger %s: next activation %v is not after %v", trigger, got, from)
		}
	}
}

func TestNextActivation_PreservesClockAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	from := time.Date(2024, time.January, 31, 14, 5, 9, 0, loc)
	got := NextActivation(domain.TriggerMonthly, from)

	if got.Location() != loc {
		t.Fatalf("expected location to be preserved, got %v", got.Location())
	}
	hour, min, sec := got.Clock()
	if hour != 14 || min != 5 || sec != 9 {
		t.Fatalf("expected clock 14:05:09 to be preserved, got %02d:%02d:%02d", hour, min, sec)
	}
	if got.Day() != 29 || got.Month() != time.February {
		t.Fatalf("expected clamp to Feb 29, got %v", got)
	}
}
