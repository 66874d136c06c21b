package services

import (
	"testing"
	"time"
)

func TestNextWeekdaySkipsWeekends(t *testing.T) {
	// 2024-01-01 is a Monday.
	cases := []struct {
		name string
		now  string
		want string
	}{
		{"MondayToTuesday", "2024-01-01", "2024-01-02"},
		{"ThursdayToFriday", "2024-01-04", "2024-01-05"},
		{"FridayToMonday", "2024-01-05", "2024-01-08"},
		{"SaturdayToMonday", "2024-01-06", "2024-01-08"},
		{"SundayToMonday", "2024-01-07", "2024-01-08"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now, err := time.Parse(ISODate, tc.now)
			if err != nil {
				t.Fatalf("parse now: %v", err)
			}
			got := NextWeekday(now).Format(ISODate)
			if got != tc.want {
				t.Errorf("NextWeekday(%s) = %s, want %s", tc.now, got, tc.want)
			}
		})
	}
}

func TestNextWeekdayProperties(t *testing.T) {
	// Any starting day of a two-week window: the result is a weekday and
	// strictly after "today".
	base := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	for i := 0; i < 14; i++ {
		now := base.AddDate(0, 0, i)
		got := NextWeekday(now)

		if got.Weekday() == time.Saturday || got.Weekday() == time.Sunday {
			t.Errorf("NextWeekday(%s) landed on %s", now.Format(ISODate), got.Weekday())
		}
		if !got.After(now) {
			t.Errorf("NextWeekday(%s) = %s is not after now", now.Format(ISODate), got.Format(ISODate))
		}
		if got.Format(ISODate) == now.Format(ISODate) {
			t.Errorf("NextWeekday(%s) returned the same date", now.Format(ISODate))
		}
	}
}

func TestWeekdayDates(t *testing.T) {
	start, _ := time.Parse(ISODate, "2024-01-04") // Thursday

	dates := WeekdayDates(start, 7)
	if len(dates) != 7 {
		t.Fatalf("expected 7 dates, got %d", len(dates))
	}
	if dates[0] != "2024-01-04" {
		t.Errorf("expected first date 2024-01-04, got %s", dates[0])
	}

	prev := ""
	for _, d := range dates {
		day, err := time.Parse(ISODate, d)
		if err != nil {
			t.Fatalf("date %s is not ISO: %v", d, err)
		}
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			t.Errorf("date %s falls on %s", d, day.Weekday())
		}
		if d <= prev {
			t.Errorf("dates not strictly ascending: %s after %s", d, prev)
		}
		prev = d
	}

	// Thu, Fri, then the following Mon-Fri.
	if dates[2] != "2024-01-08" {
		t.Errorf("expected weekend skipped to 2024-01-08, got %s", dates[2])
	}
}

func TestWeekdayDatesWeekendStart(t *testing.T) {
	start, _ := time.Parse(ISODate, "2024-01-06") // Saturday
	dates := WeekdayDates(start, 1)
	if len(dates) != 1 || dates[0] != "2024-01-08" {
		t.Errorf("expected [2024-01-08], got %v", dates)
	}
}
