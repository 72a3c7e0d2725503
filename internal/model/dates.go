package model

import "time"

// DateKeyLayout is the calendar-date key format used by the journal, memo
// and daily-score maps and by the date-keyed wire tables.
const DateKeyLayout = "2006-01-02"

// DateKey returns the calendar-date key for a point in time.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// ValidDateKey reports whether s is a well-formed YYYY-MM-DD key.
func ValidDateKey(s string) bool {
	_, err := time.Parse(DateKeyLayout, s)
	return err == nil
}

// StartsOn reports whether the event's start time falls on the given
// calendar date. Malformed start times never match.
func (e CalendarEvent) StartsOn(dateKey string) bool {
	t, err := time.Parse(time.RFC3339, e.StartTime)
	if err != nil {
		return false
	}
	return DateKey(t) == dateKey
}

// ScheduledMinutes returns the whole minutes between the event's start and
// end times. Malformed or inverted ranges yield 0.
func (e CalendarEvent) ScheduledMinutes() int {
	start, err := time.Parse(time.RFC3339, e.StartTime)
	if err != nil {
		return 0
	}
	end, err := time.Parse(time.RFC3339, e.EndTime)
	if err != nil {
		return 0
	}
	mins := int(end.Sub(start).Minutes())
	if mins < 0 {
		return 0
	}
	return mins
}
