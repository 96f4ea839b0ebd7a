package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokyo = time.FixedZone("JST", 9*3600)

func timed(title string, h, m int) Event {
	start := time.Date(2026, 2, 14, h, m, 0, 0, tokyo)
	return Event{Title: title, Start: start, End: start.Add(time.Hour)}
}

func allDay(title string, day int) Event {
	start := time.Date(2026, 2, day, 0, 0, 0, 0, tokyo)
	return Event{Title: title, Start: start, End: start.AddDate(0, 0, 1), AllDay: true}
}

func TestTimedEventsSortedWithTitleTieBreak(t *testing.T) {
	t.Parallel()

	d := DaySchedule{
		Date: time.Date(2026, 2, 14, 0, 0, 0, 0, tokyo),
		Events: []Event{
			timed("standup", 14, 0),
			timed("zeta review", 9, 0),
			allDay("holiday", 14),
			timed("alpha review", 9, 0),
		},
	}

	got := d.TimedEvents()
	require.Len(t, got, 3)
	assert.Equal(t, "alpha review", got[0].Title)
	assert.Equal(t, "zeta review", got[1].Title)
	assert.Equal(t, "standup", got[2].Title)
}

func TestAllDayEventsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	d := DaySchedule{Events: []Event{
		allDay("second", 14),
		timed("meeting", 10, 0),
		allDay("first", 14),
	}}

	got := d.AllDayEvents()
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Title)
	assert.Equal(t, "first", got[1].Title)
}

func TestNextTimedEvent(t *testing.T) {
	t.Parallel()

	d := DaySchedule{Events: []Event{
		timed("morning", 9, 0),
		timed("afternoon", 14, 0),
	}}

	now := time.Date(2026, 2, 14, 10, 0, 0, 0, tokyo)
	next, ok := d.NextTimedEvent(now)
	require.True(t, ok)
	assert.Equal(t, "afternoon", next.Title)

	_, ok = d.NextTimedEvent(time.Date(2026, 2, 14, 15, 0, 0, 0, tokyo))
	assert.False(t, ok)
}

func TestBuildSnapshotPartitionsByLocalDate(t *testing.T) {
	t.Parallel()

	events := []Event{
		timed("friday", 9, 0),
		allDay("saturday off", 15),
	}
	fetched := time.Date(2026, 2, 14, 8, 0, 0, 0, tokyo)

	s := BuildSnapshot(events, fetched, FreshnessLive)

	require.Len(t, s.Days, 2)
	fri, ok := s.Day(time.Date(2026, 2, 14, 12, 0, 0, 0, tokyo))
	require.True(t, ok)
	assert.Len(t, fri.Events, 1)

	sat, ok := s.Day(time.Date(2026, 2, 15, 0, 0, 0, 0, tokyo))
	require.True(t, ok)
	assert.Equal(t, "saturday off", sat.Events[0].Title)

	assert.Equal(t, FreshnessLive, s.Freshness)
	assert.True(t, s.FetchedAt.Equal(fetched))
	assert.Empty(t, s.EventsOn(time.Date(2026, 2, 16, 0, 0, 0, 0, tokyo)))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := timed("ok", 9, 0)
	assert.NoError(t, valid.Validate())

	noTitle := valid
	noTitle.Title = ""
	assert.Error(t, noTitle.Validate())

	backwards := valid
	backwards.End = backwards.Start.Add(-time.Minute)
	assert.Error(t, backwards.Validate())

	badAllDay := allDay("off", 14)
	badAllDay.Start = badAllDay.Start.Add(30 * time.Minute)
	assert.Error(t, badAllDay.Validate())

	assert.NoError(t, allDay("off", 14).Validate())
}
