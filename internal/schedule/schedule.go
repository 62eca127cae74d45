package schedule

import "time"

// maxDayScan bounds the day-by-day search for an allowed weekday. Seven days
// covers any real weekday set (an entire disallowed weekend, for example); the
// extra slack keeps a misconfigured empty DaySet from looping forever.
const maxDayScan = 8

// NextValidSendTime returns the smallest t >= anchor + minIntervalSeconds such
// that t's weekday is allowed and t's time-of-day lies inside the window.
//
// A candidate before the window on an allowed day snaps forward to that day's
// window start. A candidate past the window, or on a disallowed day, moves to
// the window start of the next allowed day, scanning day by day. If no allowed
// day exists within maxDayScan days (an empty or bogus DaySet), the raw
// candidate is returned unchanged so callers still make progress.
//
// Deterministic for fixed inputs; the computation stays in anchor's location.
func NextValidSendTime(anchor time.Time, minIntervalSeconds int, window Window, days DaySet) time.Time {
	candidate := anchor.Add(time.Duration(minIntervalSeconds) * time.Second)

	cur := candidate
	for i := 0; i < maxDayScan; i++ {
		if days.Has(cur.Weekday()) {
			minute := cur.Hour()*60 + cur.Minute()
			switch {
			case window.Contains(minute):
				return cur
			case !window.Disabled() && minute < window.StartMinute:
				return windowStartOn(cur, window)
			}
			// Past the window; fall through to the next day.
		}
		cur = windowStartOn(cur.AddDate(0, 0, 1), window)
	}

	return candidate
}

// windowStartOn returns the window's start time on t's calendar day.
func windowStartOn(t time.Time, w Window) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), w.StartMinute/60, w.StartMinute%60, 0, 0, t.Location())
}
