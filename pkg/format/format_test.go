package format

import (
	"math"
	"testing"
	"time"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"zero", 0, "0 B"},
		{"negative", -12, "0 B"},
		{"nan", math.NaN(), "0 B"},
		{"infinite", math.Inf(1), "0 B"},
		{"plain bytes", 512, "512 B"},
		{"one kilobyte", 1024, "1.0 KB"},
		{"fractional kilobytes", 1536, "1.5 KB"},
		{"hundred kilobytes drops decimals", 150 * 1024, "150 KB"},
		{"megabytes", 5.3 * 1024 * 1024, "5.3 MB"},
		{"gigabytes", 2 * 1024 * 1024 * 1024, "2.0 GB"},
		{"terabytes cap", 3000 * 1024 * 1024 * 1024 * 1024, "3000 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Bytes(tt.in); got != tt.want {
				t.Errorf("Bytes(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSpeed(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"zero", 0, "0 KB/s"},
		{"negative", -1, "0 KB/s"},
		{"nan", math.NaN(), "0 KB/s"},
		{"bytes per second", 900, "900 B/s"},
		{"kilobytes per second", 2048, "2.0 KB/s"},
		{"megabytes per second", 1.5 * 1024 * 1024, "1.5 MB/s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Speed(tt.in); got != tt.want {
				t.Errorf("Speed(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"zero", 0, Infinity},
		{"negative", -5, Infinity},
		{"infinite", math.Inf(1), Infinity},
		{"seconds", 42.9, "42s"},
		{"minutes", 125, "2m 5s"},
		{"hours", 3*3600 + 61, "3h 1m"},
		{"at bound", MaxDurationSeconds, "876000h 0m"},
		{"past bound", MaxDurationSeconds + 1, Infinity},
		{"tiny rate", 1e300, Infinity},
		{"int64 overflow", 1e19, Infinity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(tt.in); got != tt.want {
				t.Errorf("Duration(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ago  time.Duration
		want string
	}{
		{"just now", 0, "0 sec ago"},
		{"future clamps", -time.Minute, "0 sec ago"},
		{"seconds", 30 * time.Second, "30 sec ago"},
		{"minutes", 5 * time.Minute, "5 min ago"},
		{"one hour", time.Hour, "1 hour ago"},
		{"hours", 5 * time.Hour, "5 hours ago"},
		{"one day", 24 * time.Hour, "1 day ago"},
		{"days", 72 * time.Hour, "3 days ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelativeTime(now.Add(-tt.ago), now); got != tt.want {
				t.Errorf("RelativeTime(-%v) = %q, want %q", tt.ago, got, tt.want)
			}
		})
	}
}
