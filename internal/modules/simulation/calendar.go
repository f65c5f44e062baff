package simulation

import "time"

// WeeklyDates returns every Monday from the first Monday on or after start
// through end, inclusive. Dates are normalized to midnight UTC.
func WeeklyDates(start, end time.Time) []time.Time {
	first := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	offset := (int(time.Monday) - int(first.Weekday()) + 7) % 7
	first = first.AddDate(0, 0, offset)

	var dates []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 7) {
		dates = append(dates, d)
	}
	return dates
}
