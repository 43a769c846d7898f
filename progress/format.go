// Package progress renders transfer progress and human readable sizes.
package progress

import (
	"fmt"
	"time"
)

var (
	sizeSuffixes = []string{"B", "KB", "MB", "GB", "TB"}
	rateSuffixes = []string{"B/s", "KB/s", "MB/s", "GB/s"}
)

func scale(v float64, suffixes []string) string {
	i := 0
	for v >= 1024 && i < len(suffixes)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, suffixes[i])
}

// FormatBytes renders n with a 1024 based unit, e.g. "1.5 MB".
func FormatBytes(n int64) string {
	return scale(float64(n), sizeSuffixes)
}

func FormatRate(bytesPerSecond float64) string {
	return scale(bytesPerSecond, rateSuffixes)
}

// FormatRelativeDate renders t relative to now ("just now", "5m ago",
// "yesterday", ...) and falls back to the date after a year.
func FormatRelativeDate(t, now time.Time) string {
	d := now.Sub(t)
	days := d.Hours() / 24
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case days < 1:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case days < 2:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%dd ago", int(days))
	case days < 30:
		return fmt.Sprintf("%dw ago", int(days/7))
	case days < 365:
		return fmt.Sprintf("%dmo ago", int(days/30))
	default:
		return t.Format("2006-01-02")
	}
}
