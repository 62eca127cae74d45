// Package schedule computes legal send times under time-of-day, weekday, and
// minimum-interval constraints. Everything here is pure: no clocks, no I/O.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a half-open [Start, End) time-of-day range, in minutes since
// midnight. A degenerate window (Start == End) means the constraint is
// disabled and the whole day is sendable.
type Window struct {
	StartMinute int
	EndMinute   int
}

// ParseWindow parses "HH:MM" start and end strings into a Window.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseMinute(start)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window start %q: %w", start, err)
	}
	e, err := parseMinute(end)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window end %q: %w", end, err)
	}
	if e < s {
		return Window{}, fmt.Errorf("window end %q before start %q", end, start)
	}
	return Window{StartMinute: s, EndMinute: e}, nil
}

func parseMinute(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute")
	}
	return h*60 + m, nil
}

// Disabled reports whether the window constraint is a no-op.
func (w Window) Disabled() bool { return w.StartMinute == w.EndMinute }

// Contains reports whether the given minute-of-day lies in [Start, End).
func (w Window) Contains(minute int) bool {
	if w.Disabled() {
		return true
	}
	return minute >= w.StartMinute && minute < w.EndMinute
}

// DaySet is a bitmask of allowed weekdays (bit 0 = Sunday .. bit 6 = Saturday).
type DaySet uint8

// Days builds a DaySet from weekday integers 0-6. Out-of-range values are
// ignored. An empty set allows nothing; NextValidSendTime guards against it.
func Days(days ...int) DaySet {
	var s DaySet
	for _, d := range days {
		if d >= 0 && d <= 6 {
			s |= 1 << uint(d)
		}
	}
	return s
}

// Has reports whether the weekday is in the set.
func (s DaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Ints returns the set as sorted weekday integers, for persistence.
func (s DaySet) Ints() []int {
	var out []int
	for d := 0; d <= 6; d++ {
		if s&(1<<uint(d)) != 0 {
			out = append(out, d)
		}
	}
	return out
}
