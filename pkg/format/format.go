// Package format renders byte counts, transfer rates, durations and
// timestamps as the display strings served to dashboard clients.
//
// Sizes use binary multiples (1 KB = 1024 B). Values of 100 or more in
// their unit, and plain byte counts, are printed without decimals; all
// other values carry one decimal place.
package format

import (
	"fmt"
	"math"
	"time"
)

var (
	byteUnits  = []string{"B", "KB", "MB", "GB", "TB"}
	speedUnits = []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}
)

// Infinity is the placeholder for an unknown or unbounded duration.
const Infinity = "∞"

// MaxDurationSeconds is the longest duration Duration renders; anything
// longer is shown as Infinity.
const MaxDurationSeconds = 100 * 365 * 24 * 3600

// scale reduces value by powers of 1024 and formats it with the matching unit.
func scale(value float64, units []string) string {
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}

	decimals := 1
	if value >= 100 || unit == 0 {
		decimals = 0
	}

	return fmt.Sprintf("%.*f %s", decimals, value, units[unit])
}

// Bytes formats a byte count, e.g. 1536 -> "1.5 KB".
// Non-finite and non-positive inputs render as "0 B".
func Bytes(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return "0 B"
	}
	return scale(n, byteUnits)
}

// Speed formats a rate in bytes per second, e.g. 2048 -> "2.0 KB/s".
// Non-finite and non-positive inputs render as "0 KB/s".
func Speed(bytesPerSecond float64) string {
	if math.IsNaN(bytesPerSecond) || math.IsInf(bytesPerSecond, 0) || bytesPerSecond <= 0 {
		return "0 KB/s"
	}
	return scale(bytesPerSecond, speedUnits)
}

// Duration formats a number of seconds as "Xh Ym", "Xm Ys" or "Xs".
// Non-finite, non-positive and longer than MaxDurationSeconds inputs
// render as Infinity.
func Duration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 || seconds > MaxDurationSeconds {
		return Infinity
	}

	total := int64(math.Floor(seconds))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// RelativeTime describes t relative to now, e.g. "3 min ago" or "1 day ago".
// Times in the future are treated as zero elapsed.
func RelativeTime(t, now time.Time) string {
	elapsed := now.Sub(t)
	if elapsed < 0 {
		elapsed = 0
	}

	switch {
	case elapsed < time.Minute:
		return fmt.Sprintf("%d sec ago", int64(elapsed/time.Second))
	case elapsed < time.Hour:
		return fmt.Sprintf("%d min ago", int64(elapsed/time.Minute))
	case elapsed < 24*time.Hour:
		return plural(int64(elapsed/time.Hour), "hour")
	default:
		return plural(int64(elapsed/(24*time.Hour)), "day")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
