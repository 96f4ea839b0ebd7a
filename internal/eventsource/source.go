// Package eventsource turns the extraction port's raw week-view entries into
// a parsed, deduplicated event list.
package eventsource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"calbar/internal/extract"
	appLog "calbar/internal/log"
	"calbar/internal/model"
)

// ErrShapeMismatch means too many entries failed to parse: the remote markup
// contract has likely changed and the result would be silently degraded.
var ErrShapeMismatch = errors.New("remote markup shape mismatch")

// defaultSkipRatio is the fraction of timed entries that may be skipped
// before the whole fetch is declared a shape mismatch. Strictly-more-than
// half by default; tunable, not a contract.
const defaultSkipRatio = 0.5

// Source produces event lists from a borrowed session. It is stateless beyond
// the session it is handed per fetch.
type Source struct {
	// SkipRatioThreshold overrides defaultSkipRatio when > 0.
	SkipRatioThreshold float64
}

func (s *Source) threshold() float64 {
	if s.SkipRatioThreshold > 0 {
		return s.SkipRatioThreshold
	}
	return defaultSkipRatio
}

// Fetch scrapes the week view for the given window using an already
// authenticated session and returns the parsed events.
//
// Individual malformed entries are skipped and counted; when the skip ratio
// exceeds the threshold the fetch fails with ErrShapeMismatch instead of
// returning a degraded list.
func (s *Source) Fetch(ctx context.Context, port extract.Port, window extract.Window) ([]model.Event, error) {
	if err := port.NavigateWeekView(ctx, window); err != nil {
		return nil, err
	}

	weekDates, err := port.WeekDates(ctx)
	if err != nil {
		appLog.Warn("week date headers unreadable, deriving from window", "err", err)
	}
	if len(weekDates) == 0 {
		weekDates = window.Days()
	}

	processed := make(map[string]bool) // raw labels already handled
	events := make([]model.Event, 0)

	// All-day chips: labels without clock times.
	allDayEntries, err := port.ListAllDayEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all-day entries: %w", err)
	}
	for _, entry := range allDayEntries {
		label := trimLabel(entry.Label)
		if label == "" || processed[label] || !IsAllDayLabel(label) {
			continue
		}
		processed[label] = true

		day := dateFromLabel(label, weekDates)
		ev := EventFromDOM(label, "", day, "", "", "", true)
		if err := ev.Validate(); err != nil {
			appLog.Warn("skipping malformed all-day entry", "label", label, "reason", err)
			continue
		}
		events = append(events, ev)
	}

	// Timed chips: parsed from their labels, then enriched one at a time
	// from the detail popup. Detail opening is sequential on purpose: the
	// popups share the remote document's focus state.
	timedEntries, err := port.ListTimedEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list timed entries: %w", err)
	}

	expected := 0
	skipped := 0
	for _, entry := range timedEntries {
		label := trimLabel(entry.Label)
		if label == "" || processed[label] {
			continue
		}
		processed[label] = true
		expected++

		ev, ok := ParseTimedLabel(label, weekDates)
		if !ok {
			skipped++
			appLog.Warn("skipping unparseable timed entry", "label", label)
			continue
		}

		ev = s.enrichFromDetail(ctx, port, entry, ev)

		if err := ev.Validate(); err != nil {
			skipped++
			appLog.Warn("skipping malformed timed entry", "label", label, "reason", err)
			continue
		}
		events = append(events, ev)
	}

	if expected > 0 && float64(skipped)/float64(expected) > s.threshold() {
		return nil, fmt.Errorf("%w: skipped %d of %d timed entries", ErrShapeMismatch, skipped, expected)
	}

	appLog.Info("fetch parsed", "events", len(events), "timed_expected", expected, "timed_skipped", skipped)
	return events, nil
}

// enrichFromDetail opens the entry's popup to recover meeting URL, location
// and description. Failures here degrade the single event, never the fetch.
func (s *Source) enrichFromDetail(ctx context.Context, port extract.Port, entry extract.RawEntry, ev model.Event) model.Event {
	detail, err := port.OpenDetail(ctx, entry)
	if err != nil {
		appLog.Warn("detail popup unavailable", "title", ev.Title, "err", err)
		// Try to restore focus state even if opening failed halfway.
		_ = port.CloseDetail(ctx)
		return ev
	}
	defer func() {
		if err := port.CloseDetail(ctx); err != nil {
			appLog.Warn("could not close detail popup", "title", ev.Title, "err", err)
		}
	}()

	if detail == "" {
		return ev
	}
	if url := ExtractMeetingURL(detail); url != "" {
		ev.MeetingURL = url
	}
	if ev.Description == "" {
		ev.Description = trimLabel(detail)
	}
	return ev
}

func trimLabel(s string) string {
	return strings.TrimSpace(s)
}
