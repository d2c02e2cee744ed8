package bases

import (
	"strconv"
	"strings"
	"time"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

// ParseDuration parses a calendar-style duration string using the
// "Nd"/"Nh"/"Nm"/"Ns" units from spec.md §6, combinable in any order
// ("1d12h", "90m", "30s"). Unlike time.ParseDuration, it understands
// "d" (24h days); pflag/cobra have no built-in flag type for that, so
// this one parser is hand-rolled rather than reached for a library.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, ctrerr.Newf(ctrerr.Validation, s, "empty duration")
	}
	var total time.Duration
	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && (s[i] == '-' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if i == start {
			return 0, ctrerr.Newf(ctrerr.Validation, s, "malformed duration %q: expected a number", s)
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			return 0, ctrerr.Newf(ctrerr.Validation, s, "malformed duration %q: %v", s, err)
		}
		if i >= len(s) {
			return 0, ctrerr.Newf(ctrerr.Validation, s, "malformed duration %q: missing unit", s)
		}
		unit := s[i]
		i++
		switch unit {
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		case 's':
			total += time.Duration(n) * time.Second
		default:
			return 0, ctrerr.Newf(ctrerr.Validation, s, "malformed duration %q: unknown unit %q", s, string(unit))
		}
	}
	return total, nil
}

// FormatDuration is ParseDuration's inverse, used when echoing the
// effective grace period back to the user.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	var b strings.Builder
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	if days > 0 {
		b.WriteString(strconv.FormatInt(int64(days), 10) + "d")
	}
	if hours > 0 {
		b.WriteString(strconv.FormatInt(int64(hours), 10) + "h")
	}
	if minutes > 0 {
		b.WriteString(strconv.FormatInt(int64(minutes), 10) + "m")
	}
	if seconds > 0 || b.Len() == 0 {
		b.WriteString(strconv.FormatInt(int64(seconds), 10) + "s")
	}
	return b.String()
}
