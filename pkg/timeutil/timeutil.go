// Package timeutil provides the time-delta arithmetic used for
// remaining-entitlement displays.
package timeutil

import (
	"strings"
	"time"
)

// Unit selects the granularity of a remaining-time calculation.
type Unit string

const (
	UnitDays    Unit = "days"
	UnitHours   Unit = "hours"
	UnitMinutes Unit = "minutes"
	UnitSeconds Unit = "seconds"
)

// ParseUnit maps a unit selector string to a Unit. Empty or unrecognized
// selectors fall back to seconds.
func ParseUnit(s string) Unit {
	switch Unit(strings.TrimSpace(strings.ToLower(s))) {
	case UnitDays:
		return UnitDays
	case UnitHours:
		return UnitHours
	case UnitMinutes:
		return UnitMinutes
	case UnitSeconds:
		return UnitSeconds
	default:
		return UnitSeconds
	}
}

func unitDuration(unit Unit) time.Duration {
	switch unit {
	case UnitDays:
		return 24 * time.Hour
	case UnitHours:
		return time.Hour
	case UnitMinutes:
		return time.Minute
	default:
		return time.Second
	}
}

// UntilAt returns the whole units remaining from now until expiresAt,
// rounded up so a partially elapsed unit still counts. ok is false when no
// expiry is set; past expiries yield zero, never a negative count.
func UntilAt(expiresAt *time.Time, unit Unit, now time.Time) (int64, bool) {
	if expiresAt == nil {
		return 0, false
	}
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0, true
	}
	d := unitDuration(unit)
	return int64((remaining + d - 1) / d), true
}

// Until is UntilAt against the wall clock.
func Until(expiresAt *time.Time, unit Unit) (int64, bool) {
	return UntilAt(expiresAt, unit, time.Now())
}
