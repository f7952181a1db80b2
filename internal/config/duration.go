package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Duration parses one duration setting. Besides Go durations ("90s",
// "1h30m") it takes a leading day count: "7d", "1d12h". Empty is zero.
// field names the setting in errors.
func Duration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseDays(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// DurationOr is Duration with def standing in for empty or zero values.
func DurationOr(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(field, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

func parseDays(s string) (time.Duration, error) {
	i := strings.IndexByte(s, 'd')
	if i <= 0 {
		return time.ParseDuration(s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n < 0 {
		return time.ParseDuration(s)
	}
	if n > int(maxDays) {
		return 0, fmt.Errorf("day count %d out of range", n)
	}
	total := time.Duration(n) * day
	if rest := s[i+1:]; rest != "" {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total, nil
}

// maxDays keeps n*day inside time.Duration.
const maxDays = int64(1<<63-1) / int64(day)
