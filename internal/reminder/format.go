package reminder

import (
	"fmt"
	"strings"
	"time"
)

// DiscordRelative renders t as Discord's relative-timestamp markup,
// e.g. "<t:1726000000:R>" shows as "in 2 hours" client-side.
func DiscordRelative(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// Countdown renders the distance from now to t as "1d 2h 3m".
// Zero units are skipped; under a minute it falls back to seconds.
func Countdown(now, t time.Time) string {
	d := t.Sub(now)
	if d <= 0 {
		return "now"
	}

	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		secs := int(d / time.Second)
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("%ds", secs)
	}
	return strings.Join(parts, " ")
}

// Describe summarizes a job's schedule for list output.
func (j *Job) Describe(now time.Time) string {
	if j.Paused {
		return "paused"
	}
	if j.NextFire == nil {
		return "expired"
	}
	return fmt.Sprintf("in %s (%s)", Countdown(now, *j.NextFire), DiscordRelative(*j.NextFire))
}
