// Package timectx renders the system-only time block and tracks concrete
// project time anchors.
package timectx

import (
	"fmt"
	"strings"
	"time"

	"projectos/internal/types"
)

// TimeSource abstracts the clock for tests.
type TimeSource interface {
	Now() time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// DefaultTimezone is used when neither the profile nor config names one.
const DefaultTimezone = "America/Chicago"

// ResolveZone prefers the user's Tier-2G timezone, then the configured
// default, then the package default. Bad names fall through to UTC.
func ResolveZone(profile *types.UserProfile, configured string) *time.Location {
	candidates := []string{}
	if profile != nil && profile.Timezone != "" {
		candidates = append(candidates, profile.Timezone)
	}
	if configured != "" {
		candidates = append(candidates, configured)
	}
	candidates = append(candidates, DefaultTimezone)
	for _, name := range candidates {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Daypart buckets a local time into morning/afternoon/evening/night.
func Daypart(local time.Time) string {
	switch h := local.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

// BirthdayToday reports whether the ISO birthdate (YYYY-MM-DD) lands on the
// local date.
func BirthdayToday(birthdate string, local time.Time) bool {
	bd, err := time.Parse("2006-01-02", birthdate)
	if err != nil {
		return false
	}
	return bd.Month() == local.Month() && bd.Day() == local.Day()
}

// Build renders the system-only time block:
//
//	TIME_RULE: ...
//	TIME_CONTEXT: <local stamp, tz abbrev> (<tz>) • daypart=<...>
//	TIME_FLAG: birthday_today=true        (only when applicable)
func Build(now time.Time, loc *time.Location, profile *types.UserProfile) string {
	local := now.In(loc)
	abbrev, _ := local.Zone()

	var b strings.Builder
	b.WriteString("TIME_RULE: Treat the stamp below as the user's current local time. Never claim you cannot know the time.\n")
	fmt.Fprintf(&b, "TIME_CONTEXT: %s %s (%s) • daypart=%s",
		local.Format("Mon Jan 2 2006 3:04 PM"), abbrev, loc.String(), Daypart(local))
	if profile != nil && profile.Birthdate != "" && BirthdayToday(profile.Birthdate, local) {
		b.WriteString("\nTIME_FLAG: birthday_today=true")
	}
	return b.String()
}
