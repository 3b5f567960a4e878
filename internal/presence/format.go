package presence

import (
	"fmt"
	"math"
	"time"
)

// FormatDuration renders seconds as "{h}h {m}m {s}s", truncating each part.
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	hours := int(seconds / 3600)
	minutes := int(math.Mod(seconds, 3600) / 60)
	secs := int(math.Mod(seconds, 60))
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
}

// FormatLastSeen describes how long ago t was, relative to now.
func FormatLastSeen(t, now time.Time) string {
	if t.IsZero() {
		return "Never"
	}

	elapsed := now.Sub(t)
	switch {
	case elapsed < time.Minute:
		return "Just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%d min ago", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		return plural(int(elapsed.Hours()), "hour")
	default:
		return plural(int(elapsed.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s ago", n, unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
