package eventsource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbar/internal/extract"
)

type fakePort struct {
	weekDates []time.Time
	allDay    []extract.RawEntry
	timed     []extract.RawEntry

	// details maps entry index to popup text; missing index yields an error.
	details map[int]string

	openCount  int
	closeCount int

	listErr error
}

func (p *fakePort) NavigateWeekView(context.Context, extract.Window) error { return nil }
func (p *fakePort) NavigateLogin(context.Context) error                    { return nil }
func (p *fakePort) ProbeAuthenticated(context.Context, time.Duration) bool { return true }
func (p *fakePort) WeekDates(context.Context) ([]time.Time, error)         { return p.weekDates, nil }

func (p *fakePort) ListAllDayEntries(context.Context) ([]extract.RawEntry, error) {
	return p.allDay, p.listErr
}

func (p *fakePort) ListTimedEntries(context.Context) ([]extract.RawEntry, error) {
	return p.timed, p.listErr
}

func (p *fakePort) OpenDetail(_ context.Context, entry extract.RawEntry) (string, error) {
	p.openCount++
	text, ok := p.details[entry.Index]
	if !ok {
		return "", errors.New("no detail popup")
	}
	return text, nil
}

func (p *fakePort) CloseDetail(context.Context) error { p.closeCount++; return nil }
func (p *fakePort) Close() error                      { return nil }

func testWeek() extract.Window {
	return extract.CurrentWeek(time.Date(2026, 2, 13, 12, 0, 0, 0, time.Local))
}

func TestFetchParsesAndEnriches(t *testing.T) {
	t.Parallel()

	port := &fakePort{
		allDay: []extract.RawEntry{
			{Index: 0, Label: "創立記念日"},
		},
		timed: []extract.RawEntry{
			{Index: 0, Label: "企画レビュー, 2月13日 金曜日, 9:00～10:00"},
			{Index: 1, Label: "1on1, 2月13日 金曜日, 14:00～14:30"},
		},
		details: map[int]string{
			0: "参加リンク https://meet.google.com/abc-defg-hij",
			1: "agenda only",
		},
	}

	src := &Source{}
	events, err := src.Fetch(context.Background(), port, testWeek())
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.True(t, events[0].AllDay)
	assert.Equal(t, "創立記念日", events[0].Title)

	assert.Equal(t, "企画レビュー", events[1].Title)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", events[1].MeetingURL)
	assert.Empty(t, events[2].MeetingURL)

	// One popup per timed entry, opened and closed sequentially.
	assert.Equal(t, 2, port.openCount)
	assert.Equal(t, 2, port.closeCount)
}

func TestFetchDeduplicatesIdenticalLabels(t *testing.T) {
	t.Parallel()

	label := "定例, 2月13日 金曜日, 9:00～10:00"
	port := &fakePort{
		timed: []extract.RawEntry{
			{Index: 0, Label: label},
			{Index: 1, Label: label},
		},
		details: map[int]string{0: "", 1: ""},
	}

	events, err := (&Source{}).Fetch(context.Background(), port, testWeek())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFetchShapeMismatchOverThreshold(t *testing.T) {
	t.Parallel()

	port := &fakePort{
		timed: []extract.RawEntry{
			{Index: 0, Label: "壊れたエントリ その1 10:00"}, // clock but no range
			{Index: 1, Label: "壊れたエントリ その2 11:00"},
			{Index: 2, Label: "定例, 2月13日 金曜日, 9:00～10:00"},
		},
		details: map[int]string{2: ""},
	}

	_, err := (&Source{}).Fetch(context.Background(), port, testWeek())
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFetchToleratesSkipsBelowThreshold(t *testing.T) {
	t.Parallel()

	port := &fakePort{
		timed: []extract.RawEntry{
			{Index: 0, Label: "壊れたエントリ 10:00"},
			{Index: 1, Label: "定例, 2月13日 金曜日, 9:00～10:00"},
			{Index: 2, Label: "1on1, 2月13日 金曜日, 14:00～14:30"},
		},
		details: map[int]string{1: "", 2: ""},
	}

	events, err := (&Source{}).Fetch(context.Background(), port, testWeek())
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestFetchDetailFailureDegradesSingleEvent(t *testing.T) {
	t.Parallel()

	port := &fakePort{
		timed: []extract.RawEntry{
			{Index: 0, Label: "定例, 2月13日 金曜日, 9:00～10:00"},
		},
		details: map[int]string{}, // every OpenDetail fails
	}

	events, err := (&Source{}).Fetch(context.Background(), port, testWeek())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].MeetingURL)
	// Focus state is restored even after a failed open.
	assert.Equal(t, 1, port.closeCount)
}

func TestFetchEmptyWeekIsNotAMismatch(t *testing.T) {
	t.Parallel()

	events, err := (&Source{}).Fetch(context.Background(), &fakePort{}, testWeek())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFetchCustomThreshold(t *testing.T) {
	t.Parallel()

	port := &fakePort{
		timed: []extract.RawEntry{
			{Index: 0, Label: "壊れたエントリ 10:00"},
			{Index: 1, Label: "定例, 2月13日 金曜日, 9:00～10:00"},
			{Index: 2, Label: "1on1, 2月13日 金曜日, 14:00～14:30"},
		},
		details: map[int]string{1: "", 2: ""},
	}

	// 1 of 3 skipped exceeds a 0.2 threshold.
	_, err := (&Source{SkipRatioThreshold: 0.2}).Fetch(context.Background(), port, testWeek())
	require.ErrorIs(t, err, ErrShapeMismatch)
}
