// Package extract defines the extraction port: the narrow, purely structural
// capability for reading calendar entries out of the remote calendar's
// rendered week view. The selector strategy is the port implementation's own
// concern; the engine only sees probe / list / open-detail / close-detail.
package extract

import (
	"context"
	"errors"
	"time"
)

// ErrNetworkUnavailable classifies navigation failures. The sync scheduler
// maps it to the cache-fallback path.
var ErrNetworkUnavailable = errors.New("remote calendar unreachable")

// Window is the date range a fetch covers, inclusive of Start's day and
// exclusive of End's.
type Window struct {
	Start time.Time
	End   time.Time
}

// CurrentWeek returns the Monday-started week containing now.
func CurrentWeek(now time.Time) Window {
	weekday := int(now.Weekday()+6) % 7 // Monday = 0
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -weekday)
	return Window{Start: start, End: start.AddDate(0, 0, 7)}
}

// Days enumerates the window's calendar days.
func (w Window) Days() []time.Time {
	var out []time.Time
	for d := w.Start; d.Before(w.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// RawEntry is one event chip as found in the rendered view. Label is the
// accessibility text the view attaches to the chip; Index addresses the chip
// when reopening it for detail extraction.
type RawEntry struct {
	Index int
	Label string
}

// Port is the extraction capability the engine consumes. Implementations own
// a single remote-view session (a browser page); they are not safe for
// concurrent use.
type Port interface {
	// NavigateWeekView loads the week view for the given window.
	NavigateWeekView(ctx context.Context, window Window) error

	// NavigateLogin loads the interactive login surface.
	NavigateLogin(ctx context.Context) error

	// ProbeAuthenticated reports whether the authenticated-only marker is
	// present, waiting at most the given bound for it to appear.
	ProbeAuthenticated(ctx context.Context, wait time.Duration) bool

	// WeekDates reads the per-day column headers of the current view.
	// Implementations may return an empty slice when the headers cannot be
	// recognized; callers fall back to deriving dates from the window.
	WeekDates(ctx context.Context) ([]time.Time, error)

	// ListAllDayEntries returns the all-day chips of the current view.
	ListAllDayEntries(ctx context.Context) ([]RawEntry, error)

	// ListTimedEntries returns the timed chips of the current view.
	ListTimedEntries(ctx context.Context) ([]RawEntry, error)

	// OpenDetail opens the entry's detail popup and returns its visible text
	// concatenated with any link targets it contains.
	OpenDetail(ctx context.Context, entry RawEntry) (string, error)

	// CloseDetail dismisses the detail popup. Safe to call when none is open.
	CloseDetail(ctx context.Context) error

	// Close releases the underlying session.
	Close() error
}

// Launcher creates Port instances. headed selects a visible session for
// interactive login; background fetches run headless.
type Launcher interface {
	Launch(ctx context.Context, headed bool) (Port, error)
}
