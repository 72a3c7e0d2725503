package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateKey(t *testing.T) {
	ts := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-01", DateKey(ts))
}

func TestValidDateKey(t *testing.T) {
	assert.True(t, ValidDateKey("2026-03-01"))
	assert.False(t, ValidDateKey("2026-3-1"))
	assert.False(t, ValidDateKey("2026-13-01"))
	assert.False(t, ValidDateKey("today"))
	assert.False(t, ValidDateKey(""))
}

func TestCalendarEvent_StartsOn(t *testing.T) {
	ev := CalendarEvent{StartTime: "2026-03-01T08:00:00Z", EndTime: "2026-03-01T09:00:00Z"}
	assert.True(t, ev.StartsOn("2026-03-01"))
	assert.False(t, ev.StartsOn("2026-03-02"))
}

func TestCalendarEvent_StartsOn_MalformedTime(t *testing.T) {
	ev := CalendarEvent{StartTime: "not a time"}
	assert.False(t, ev.StartsOn("2026-03-01"))
}

func TestCalendarEvent_ScheduledMinutes(t *testing.T) {
	ev := CalendarEvent{StartTime: "2026-03-01T08:00:00Z", EndTime: "2026-03-01T09:30:00Z"}
	assert.Equal(t, 90, ev.ScheduledMinutes())
}

func TestCalendarEvent_ScheduledMinutes_Inverted(t *testing.T) {
	ev := CalendarEvent{StartTime: "2026-03-01T09:00:00Z", EndTime: "2026-03-01T08:00:00Z"}
	assert.Equal(t, 0, ev.ScheduledMinutes(), "inverted ranges contribute no scheduled time")
}

func TestCalendarEvent_ScheduledMinutes_Malformed(t *testing.T) {
	ev := CalendarEvent{StartTime: "garbage", EndTime: "2026-03-01T09:00:00Z"}
	assert.Equal(t, 0, ev.ScheduledMinutes())
}
