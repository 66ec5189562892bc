package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSpec converts the config schedule grammar into a 5-field cron spec.
//
// Accepted forms:
//
//	"day HH:MM"        every day at HH:MM
//	"week <0-6> HH:MM" weekly; 0=Monday ... 6=Sunday
//	"cron <expr>"      raw 5-field cron expression
func ParseSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "day "):
		h, m, err := parseHHMM(strings.TrimPrefix(s, "day "))
		if err != nil {
			return "", fmt.Errorf("day schedule %q: %w", raw, err)
		}
		return fmt.Sprintf("%d %d * * *", m, h), nil

	case strings.HasPrefix(s, "week "):
		parts := strings.Fields(s)
		if len(parts) != 3 {
			return "", fmt.Errorf("week schedule %q: expected \"week <0-6> HH:MM\"", raw)
		}
		day, err := strconv.Atoi(parts[1])
		if err != nil || day < 0 || day > 6 {
			return "", fmt.Errorf("week schedule %q: invalid weekday %q", raw, parts[1])
		}
		h, m, err := parseHHMM(parts[2])
		if err != nil {
			return "", fmt.Errorf("week schedule %q: %w", raw, err)
		}
		// Config weekdays are 0=Monday; cron uses 0=Sunday.
		dow := (day + 1) % 7
		return fmt.Sprintf("%d %d * * %d", m, h, dow), nil

	case strings.HasPrefix(s, "cron "):
		expr := strings.TrimSpace(strings.TrimPrefix(s, "cron "))
		if expr == "" {
			return "", fmt.Errorf("cron schedule %q: empty expression", raw)
		}
		return expr, nil

	default:
		return "", fmt.Errorf("unsupported schedule format %q", raw)
	}
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
