package model

import (
	"errors"
	"sort"
	"time"
)

// Event represents a single calendar entry as scraped from the remote week
// view. Events are built by the parser and never mutated afterwards; a new
// fetch produces new Event values.
type Event struct {
	Title string

	// Start / End carry the event's timezone. For all-day entries Start is
	// midnight of the day and End is midnight of the following day.
	Start time.Time
	End   time.Time

	AllDay bool

	Location     string
	MeetingURL   string // Google Meet / Zoom / Teams / Webex URL, if detected
	Description  string
	CalendarName string
}

// Key identifies an event across fetch cycles. The remote view exposes no
// stable id, so title plus start instant is the best available identity.
func (e Event) Key() string {
	return e.Title + "_" + e.Start.Format(time.RFC3339)
}

// Validate rejects events that violate the model invariants. It is applied at
// the boundaries (parser output, cache load) so that malformed records never
// travel further inward.
func (e Event) Validate() error {
	if e.Title == "" {
		return errors.New("event has empty title")
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return errors.New("event has zero start or end")
	}
	if e.End.Before(e.Start) {
		return errors.New("event end precedes start")
	}
	if e.AllDay {
		if !onDayBoundary(e.Start) || !onDayBoundary(e.End) {
			return errors.New("all-day event not aligned to day boundaries")
		}
	}
	return nil
}

func onDayBoundary(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// DayKey returns the canonical key for the local calendar date of t.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// DaySchedule holds all events whose local date matches Date. It is rebuilt
// wholesale on every fetch, never patched.
type DaySchedule struct {
	Date   time.Time // midnight, local zone of the events
	Events []Event
}

// AllDayEvents returns the all-day entries in insertion order.
func (d DaySchedule) AllDayEvents() []Event {
	out := make([]Event, 0)
	for _, e := range d.Events {
		if e.AllDay {
			out = append(out, e)
		}
	}
	return out
}

// TimedEvents returns the non-all-day entries sorted ascending by start
// instant, ties broken by title so the order is deterministic.
func (d DaySchedule) TimedEvents() []Event {
	out := make([]Event, 0)
	for _, e := range d.Events {
		if !e.AllDay {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// NextTimedEvent returns the first timed event starting strictly after now,
// or false if the day has none left.
func (d DaySchedule) NextTimedEvent(now time.Time) (Event, bool) {
	for _, e := range d.TimedEvents() {
		if e.Start.After(now) {
			return e, true
		}
	}
	return Event{}, false
}

// Freshness tags a snapshot as freshly fetched or restored from the cache.
type Freshness string

const (
	FreshnessLive      Freshness = "live"
	FreshnessFromCache Freshness = "from_cache"
)

// Snapshot is an immutable, fully-built schedule for a date window. It is the
// unit handed through the state bridge and written to the cache; a new fetch
// builds a new Snapshot rather than editing the old one.
type Snapshot struct {
	Days      map[string]DaySchedule // keyed by DayKey
	Events    []Event                // flat list, parser order
	FetchedAt time.Time
	Freshness Freshness
}

// BuildSnapshot partitions events by the local date of their start instant.
func BuildSnapshot(events []Event, fetchedAt time.Time, freshness Freshness) *Snapshot {
	days := make(map[string]DaySchedule)
	for _, e := range events {
		key := DayKey(e.Start)
		sched, ok := days[key]
		if !ok {
			y, m, d := e.Start.Date()
			sched = DaySchedule{Date: time.Date(y, m, d, 0, 0, 0, 0, e.Start.Location())}
		}
		sched.Events = append(sched.Events, e)
		days[key] = sched
	}

	flat := make([]Event, len(events))
	copy(flat, events)

	return &Snapshot{
		Days:      days,
		Events:    flat,
		FetchedAt: fetchedAt,
		Freshness: freshness,
	}
}

// Day returns the schedule for the given date, if any.
func (s *Snapshot) Day(t time.Time) (DaySchedule, bool) {
	sched, ok := s.Days[DayKey(t)]
	return sched, ok
}

// EventsOn returns the events whose local date matches t.
func (s *Snapshot) EventsOn(t time.Time) []Event {
	sched, ok := s.Day(t)
	if !ok {
		return nil
	}
	return sched.Events
}
