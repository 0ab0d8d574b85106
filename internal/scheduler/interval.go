package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration parses "1m", "15m", "1h", "4h", "1d", "1w" into a
// time.Duration. Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// SanitizeIntervals lowercases, trims and deduplicates an interval list,
// dropping entries ParseIntervalDuration rejects.
func SanitizeIntervals(intervals []string) []string {
	out := make([]string, 0, len(intervals))
	seen := make(map[string]bool, len(intervals))
	for _, iv := range intervals {
		iv = strings.ToLower(strings.TrimSpace(iv))
		if iv == "" || seen[iv] {
			continue
		}
		if _, ok := ParseIntervalDuration(iv); !ok {
			continue
		}
		seen[iv] = true
		out = append(out, iv)
	}
	return out
}
