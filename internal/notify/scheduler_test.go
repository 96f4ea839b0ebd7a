package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbar/internal/model"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

type notifyCall struct {
	title, body, actionURL string
}

func (n *recordingNotifier) Notify(title, body, actionURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{title, body, actionURL})
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *recordingNotifier) last() notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[len(n.calls)-1]
}

func eventAt(title string, start time.Time, url string) model.Event {
	return model.Event{Title: title, Start: start, End: start.Add(time.Hour), MeetingURL: url}
}

func TestRescheduleSkipsPastReminderInstants(t *testing.T) {
	t.Parallel()

	// The reference scenario: 09:00 and 14:00 events, 5 minute lead,
	// current time 08:58. The 08:55 reminder already passed and is skipped;
	// only the 13:55 one is installed.
	now := time.Date(2026, 2, 14, 8, 58, 0, 0, time.Local)
	morning := eventAt("朝会", time.Date(2026, 2, 14, 9, 0, 0, 0, time.Local), "")
	afternoon := eventAt("企画レビュー", time.Date(2026, 2, 14, 14, 0, 0, 0, time.Local),
		"https://meet.google.com/abc-defg-hij")

	notifier := &recordingNotifier{}
	s := NewScheduler(notifier)
	s.now = func() time.Time { return now }

	s.Reschedule([]model.Event{morning, afternoon}, 5)
	defer s.CancelAll()

	pending := s.PendingInstants()
	require.Len(t, pending, 1)
	want := time.Date(2026, 2, 14, 13, 55, 0, 0, time.Local)
	assert.True(t, pending[afternoon.Key()].Equal(want))
	assert.Zero(t, notifier.count(), "nothing fires at install time")
}

func TestRescheduleIsIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 8, 0, 0, 0, time.Local)
	events := []model.Event{
		eventAt("朝会", now.Add(2*time.Hour), ""),
		eventAt("1on1", now.Add(4*time.Hour), ""),
	}

	notifier := &recordingNotifier{}
	s := NewScheduler(notifier)
	s.now = func() time.Time { return now }

	s.Reschedule(events, 5)
	first := s.PendingInstants()
	s.Reschedule(events, 5)
	second := s.PendingInstants()
	defer s.CancelAll()

	assert.Equal(t, first, second)
	assert.Len(t, second, 2)
	assert.Zero(t, notifier.count(), "no duplicate deliveries across identical reschedules")
}

func TestRescheduleReplacesTimerSetWholesale(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 8, 0, 0, 0, time.Local)
	old := eventAt("取り消された会議", now.Add(time.Hour), "")
	replacement := eventAt("新しい会議", now.Add(2*time.Hour), "")

	s := NewScheduler(&recordingNotifier{})
	s.now = func() time.Time { return now }

	s.Reschedule([]model.Event{old}, 5)
	s.Reschedule([]model.Event{replacement}, 5)
	defer s.CancelAll()

	pending := s.PendingInstants()
	require.Len(t, pending, 1)
	_, kept := pending[replacement.Key()]
	assert.True(t, kept)
	_, stale := pending[old.Key()]
	assert.False(t, stale, "old handles must be torn down, never merged")
}

func TestRescheduleIgnoresAllDayEvents(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 8, 0, 0, 0, time.Local)
	day := time.Date(2026, 2, 15, 0, 0, 0, 0, time.Local)
	allDay := model.Event{Title: "休日", Start: day, End: day.AddDate(0, 0, 1), AllDay: true}

	s := NewScheduler(&recordingNotifier{})
	s.now = func() time.Time { return now }

	s.Reschedule([]model.Event{allDay}, 5)
	assert.Empty(t, s.PendingInstants())
}

func TestFireDeliversTitleStartAndMeetingURL(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	s := NewScheduler(notifier)

	start := time.Now().Add(5*time.Minute + 30*time.Millisecond)
	ev := eventAt("企画レビュー", start, "https://meet.google.com/abc-defg-hij")

	s.Reschedule([]model.Event{ev}, 5)
	defer s.CancelAll()

	require.Eventually(t, func() bool { return notifier.count() == 1 },
		2*time.Second, 10*time.Millisecond)

	call := notifier.last()
	assert.Contains(t, call.title, "企画レビュー")
	assert.Contains(t, call.title, start.Format("15:04"))
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", call.actionURL)

	// The fired timer discarded its own handle.
	assert.Empty(t, s.PendingInstants())
}

func TestCancelAllStopsEverything(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	s := NewScheduler(notifier)

	start := time.Now().Add(5*time.Minute + 20*time.Millisecond)
	s.Reschedule([]model.Event{eventAt("会議", start, "")}, 5)
	s.CancelAll()

	assert.Empty(t, s.PendingInstants())
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, notifier.count())
}
