/**
 * @description
 * Schedule calculation for automation rules. Pure functions: given a trigger
 * kind and a reference time, compute the next eligible activation time. The
 * actual timer lives in the cron scheduler; the engine only needs to know
 * "when is this rule next due".
 */

package app

import (
	"time"

	"github.com/yieldhive/automation-service/internal/domain"
)

// NextActivation computes the next activation time for a trigger, strictly
// after `from`. Monthly and quarterly triggers advance by calendar months and
// clamp to the last day of shorter target months (Jan 31 + 1 month is Feb 28
// or 29, never Mar 2). Threshold rules are re-checked daily; whether accrued
// profit has actually crossed the threshold is the engine's decision at each
// poll, not this function's.
func NextActivation(trigger domain.TriggerKind, from time.Time) time.Time {
	switch trigger {
	case domain.TriggerWeekly:
		return from.AddDate(0, 0, 7)
	case domain.TriggerMonthly:
		return addMonthsClamped(from, 1)
	case domain.TriggerQuarterly:
		return addMonthsClamped(from, 3)
	default:
		// profit_threshold and anything unrecognized: poll again tomorrow.
		return from.Add(24 * time.Hour)
	}
}

// addMonthsClamped advances `from` by the given number of calendar months,
// keeping the day-of-month where possible and clamping to the target month's
// last day otherwise. time.Time.AddDate is unsuitable here: it normalizes
// overflow days into the following month.
func addMonthsClamped(from time.Time, months int) time.Time {
	year, month, day := from.Date()
	total := int(month) - 1 + months
	targetYear := year + total/12
	targetMonth := time.Month(total%12 + 1)

	if last := daysInMonth(targetYear, targetMonth); day > last {
		day = last
	}

	hour, min, sec := from.Clock()
	return time.Date(targetYear, targetMonth, day, hour, min, sec, from.Nanosecond(), from.Location())
}

// daysInMonth returns the number of days in the given month. Day 0 of the
// following month normalizes to this month's last day.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
