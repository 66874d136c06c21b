package services

import "time"

// ISODate is the date layout used for lesson plan keys.
const ISODate = "2006-01-02"

// NextWeekday returns the first day strictly after now that is not a
// Saturday or Sunday. Lesson plans always start on a school day.
func NextWeekday(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// WeekdayDates returns n consecutive weekday dates starting at start,
// formatted as ISO dates. If start falls on a weekend it is advanced to
// the following Monday first.
func WeekdayDates(start time.Time, n int) []string {
	dates := make([]string, 0, n)
	d := start
	for len(dates) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			dates = append(dates, d.Format(ISODate))
		}
		d = d.AddDate(0, 0, 1)
	}
	return dates
}
