package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a human size string ("10MB", "512KB", "1024B", or a bare
// integer meaning bytes) into a byte count. Units are case-insensitive and
// accept both "KB"/"K", "MB"/"M", "GB"/"G" forms.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size value")
	}

	upper := strings.ToUpper(s)
	multiplier := int64(1)
	numeric := upper

	switch {
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		numeric = strings.TrimSuffix(upper, "GB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		numeric = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		numeric = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "G"):
		multiplier = 1024 * 1024 * 1024
		numeric = strings.TrimSuffix(upper, "G")
	case strings.HasSuffix(upper, "M"):
		multiplier = 1024 * 1024
		numeric = strings.TrimSuffix(upper, "M")
	case strings.HasSuffix(upper, "K"):
		multiplier = 1024
		numeric = strings.TrimSuffix(upper, "K")
	case strings.HasSuffix(upper, "B"):
		multiplier = 1
		numeric = strings.TrimSuffix(upper, "B")
	}

	numeric = strings.TrimSpace(numeric)
	value, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size %q must not be negative", s)
	}

	return value * multiplier, nil
}

// FormatSize renders a byte count back into the short unit form ParseSize accepts.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024*1024 && bytes%(1024*1024*1024) == 0:
		return fmt.Sprintf("%dGB", bytes/(1024*1024*1024))
	case bytes >= 1024*1024 && bytes%(1024*1024) == 0:
		return fmt.Sprintf("%dMB", bytes/(1024*1024))
	case bytes >= 1024 && bytes%1024 == 0:
		return fmt.Sprintf("%dKB", bytes/1024)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
