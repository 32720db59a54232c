package tasks

import "time"

// summaryWindow returns the half-open interval covered by a daily recap
// running at the given instant: from the start of the previous UTC day up
// to the scheduled hour of the current day. Messages landing between the
// scheduled hour and the actual run instant stay in the next day's recap.
func summaryWindow(now time.Time, hour int) (start, end time.Time) {
	now = now.UTC()
	end = time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return start, end
}
