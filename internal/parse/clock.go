package parse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EndOfDay is the exclusive upper bound of a working window (24:00).
const EndOfDay = 24 * time.Hour

// Clock parses a time-of-day string ("HH:MM" or "HH:MM:SS") into the offset
// from midnight. "24:00" is accepted as the end-of-day boundary; anything
// past it is rejected.
func Clock(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("unable to parse time of day: %q", raw)
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unable to parse time of day: %q", raw)
		}
		nums[i] = n
	}

	h, m, sec := nums[0], nums[1], 0
	if len(nums) == 3 {
		sec = nums[2]
	}
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("unable to parse time of day: %q", raw)
	}

	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	if d > EndOfDay {
		return 0, fmt.Errorf("time of day out of range: %q", raw)
	}
	return d, nil
}

// ClockOf returns the offset from midnight for t in its own location.
func ClockOf(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}
