package rencontre

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	fallbackEventDuration = 5 * time.Minute
	minEventDuration      = time.Minute
	maxEventDuration      = 24 * time.Hour
)

var (
	durationMinutesPattern = regexp.MustCompile(`^(\d+)$`)
	durationHoursPattern   = regexp.MustCompile(`^(\d+)h(\d+)?m?$`)
	durationSuffixPattern  = regexp.MustCompile(`^(\d+)m(?:in)?$`)
)

// parseEventDuration parses the loose duration format accepted by
// /speeddating: "20" (minutes), "20m", "20min", "1h", "1h30", "1h30m".
// Empty or unrecognized input yields five minutes. Results are kept
// between one minute and one day.
func parseEventDuration(s string) time.Duration {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if s == "" {
		return fallbackEventDuration
	}

	var hours, minutes string
	switch {
	case durationMinutesPattern.MatchString(s):
		minutes = durationMinutesPattern.FindStringSubmatch(s)[1]
	case durationHoursPattern.MatchString(s):
		m := durationHoursPattern.FindStringSubmatch(s)
		hours, minutes = m[1], m[2]
	case durationSuffixPattern.MatchString(s):
		minutes = durationSuffixPattern.FindStringSubmatch(s)[1]
	default:
		return fallbackEventDuration
	}
	d := durationPart(hours, time.Hour) + durationPart(minutes, time.Minute)
	return min(max(d, minEventDuration), maxEventDuration)
}

// durationPart converts a string of digits into a multiple of unit. Values
// past maxEventDuration, including ones that don't fit an int64, are
// capped before multiplying.
func durationPart(digits string, unit time.Duration) time.Duration {
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > int64(maxEventDuration/unit) {
		return maxEventDuration
	}
	return time.Duration(n) * unit
}

// formatEventDuration renders whole minutes as "20m", or "1h05" past an hour
func formatEventDuration(d time.Duration) string {
	mins := int(d / time.Minute)
	h, m := mins/60, mins%60
	if h > 0 {
		return fmt.Sprintf("%dh%02d", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
