// Package notify owns the per-event reminder timers and the channels that
// deliver them to the desktop.
package notify

import (
	"fmt"
	"sync"
	"time"

	appLog "calbar/internal/log"
	"calbar/internal/model"
)

// Notifier delivers one reminder. Fire-and-forget: failures are reported so
// the caller can log them, but nothing retries.
type Notifier interface {
	Notify(title, body, actionURL string) error
}

// Scheduler keeps exactly one pending reminder per upcoming timed event,
// none stale, none duplicated. The full timer set is replaced wholesale on
// every Reschedule; there is no per-event cancel.
type Scheduler struct {
	notifier Notifier

	// now is a seam for tests.
	now func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	fireAt map[string]time.Time
}

// Option adjusts the Scheduler, mainly for tests.
type Option func(*Scheduler)

// WithClock replaces the scheduler's notion of now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		notifier: notifier,
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
		fireAt:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reschedule cancels every currently-held timer, then installs a fresh one
// for each timed event whose reminder instant (start minus lead) is still in
// the future. Past reminder instants are skipped entirely: no backfill, no
// late fire. Calling Reschedule twice with the same input yields the same
// firing instants, so an event that survives consecutive fetch cycles never
// notifies twice.
func (s *Scheduler) Reschedule(events []model.Event, leadMinutes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelAllLocked()

	now := s.now()
	lead := time.Duration(leadMinutes) * time.Minute
	skipped := 0

	for _, e := range events {
		if e.AllDay {
			continue
		}
		notifyAt := e.Start.Add(-lead)
		if !notifyAt.After(now) {
			skipped++
			continue
		}

		key := e.Key()
		event := e // capture per iteration
		s.fireAt[key] = notifyAt
		s.timers[key] = time.AfterFunc(notifyAt.Sub(now), func() {
			s.fire(key, event, leadMinutes)
		})
	}

	appLog.Info("reminders rescheduled",
		"installed", len(s.timers), "skipped_past", skipped, "lead_minutes", leadMinutes)
}

// CancelAll tears down every pending reminder.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
}

func (s *Scheduler) cancelAllLocked() {
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
		delete(s.fireAt, key)
	}
}

// PendingInstants returns the firing instants of the currently installed
// timers, keyed by event identity.
func (s *Scheduler) PendingInstants() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.fireAt))
	for k, v := range s.fireAt {
		out[k] = v
	}
	return out
}

// fire delivers the reminder and discards the timer's own handle.
func (s *Scheduler) fire(key string, e model.Event, leadMinutes int) {
	s.mu.Lock()
	delete(s.timers, key)
	delete(s.fireAt, key)
	s.mu.Unlock()

	title := fmt.Sprintf("📅 %s %s", e.Start.Format("15:04"), e.Title)
	body := fmt.Sprintf("%d分後に開始します", leadMinutes)
	if e.MeetingURL != "" {
		body += "\nクリックして会議に参加"
	}

	if err := s.notifier.Notify(title, body, e.MeetingURL); err != nil {
		appLog.Warn("notifier unavailable", "title", e.Title, "err", err)
		return
	}
	appLog.Info("reminder delivered", "title", e.Title, "start", e.Start.Format(time.RFC3339))
}
