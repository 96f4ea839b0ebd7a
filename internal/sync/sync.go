// Package sync drives the refresh cadence: periodic and on-demand fetch
// cycles, the single in-flight-fetch constraint, and the fallback/success
// contract against the cache.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"calbar/internal/bridge"
	"calbar/internal/cache"
	"calbar/internal/config"
	"calbar/internal/eventsource"
	"calbar/internal/extract"
	appLog "calbar/internal/log"
	"calbar/internal/model"
	"calbar/internal/notify"
	"calbar/internal/session"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomePublished       Outcome = "published"
	OutcomeFellBackToCache Outcome = "fell_back_to_cache"
	OutcomeFailedSilent    Outcome = "failed_silent"
)

// Engine owns the cycle state machine Idle -> Fetching -> outcome. At most
// one cycle is fetching at a time; triggers arriving while one is in flight
// are coalesced, not queued.
type Engine struct {
	cfg       *config.Config
	sessions  *session.Manager
	source    *eventsource.Source
	store     *cache.Store
	bridge    *bridge.Bridge
	reminders *notify.Scheduler

	cron *cron.Cron

	inFlight atomic.Bool
	now      func() time.Time

	// fetchFn is the acquire-then-scrape pipeline; a seam for tests.
	fetchFn func(ctx context.Context) ([]model.Event, error)
}

func NewEngine(cfg *config.Config, sessions *session.Manager, source *eventsource.Source,
	store *cache.Store, br *bridge.Bridge, reminders *notify.Scheduler) *Engine {
	e := &Engine{
		cfg:       cfg,
		sessions:  sessions,
		source:    source,
		store:     store,
		bridge:    br,
		reminders: reminders,
		now:       time.Now,
	}
	e.fetchFn = e.fetch
	return e
}

// Start kicks off the startup cycle and the periodic schedule. It returns
// immediately; cycles run on background goroutines until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.cron = cron.New()
	spec := fmt.Sprintf("@every %dm", e.cfg.FetchIntervalMinutes)
	if _, err := e.cron.AddFunc(spec, func() { e.Trigger(ctx, "interval") }); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	e.cron.Start()

	appLog.Info("sync engine started", "interval_minutes", e.cfg.FetchIntervalMinutes)
	e.Trigger(ctx, "startup")

	go func() {
		<-ctx.Done()
		e.cron.Stop()
	}()
	return nil
}

// Trigger requests a refresh cycle. A trigger arriving while a cycle is
// fetching is dropped; the next periodic tick re-triggers naturally. Returns
// whether the trigger started a cycle.
func (e *Engine) Trigger(ctx context.Context, reason string) bool {
	if !e.inFlight.CompareAndSwap(false, true) {
		appLog.Debug("refresh trigger coalesced", "reason", reason)
		return false
	}
	go func() {
		defer e.inFlight.Store(false)
		outcome := e.runCycle(ctx)
		appLog.Info("sync cycle finished", "reason", reason, "outcome", string(outcome))
	}()
	return true
}

// RunOnce executes a single synchronous cycle (the -once mode).
func (e *Engine) RunOnce(ctx context.Context) Outcome {
	if !e.inFlight.CompareAndSwap(false, true) {
		return OutcomeFailedSilent
	}
	defer e.inFlight.Store(false)
	return e.runCycle(ctx)
}

// runCycle performs one fetch, then the success path (save, publish,
// reschedule, in that order) or the cache fallback. Session and source
// failures are all absorbed here: nothing from a single cycle escapes to
// crash the process.
func (e *Engine) runCycle(ctx context.Context) Outcome {
	events, err := e.fetchFn(ctx)
	if err != nil {
		return e.fallback(err)
	}

	now := e.now()
	snapshot := model.BuildSnapshot(events, now, model.FreshnessLive)

	if err := e.store.Save(events); err != nil {
		// A broken cache write degrades offline behavior only; the fresh
		// snapshot still goes out.
		appLog.Error("cache save failed", err)
	}
	e.bridge.Publish(snapshot)
	e.reminders.Reschedule(e.todays(events, now), e.cfg.NotificationMinutesBefore)

	return OutcomePublished
}

func (e *Engine) fetch(ctx context.Context) ([]model.Event, error) {
	port, err := e.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	return e.source.Fetch(ctx, port, extract.CurrentWeek(e.now()))
}

// fallback republishes the cached snapshot, tagged from_cache, so the UI can
// show staleness and reminders keep working offline. With no cache, the
// cycle ends silent: no snapshot change, no timer change.
func (e *Engine) fallback(cause error) Outcome {
	switch {
	case errors.Is(cause, eventsource.ErrShapeMismatch):
		// Elevated severity: this is a code/markup contract break, not
		// transient trouble.
		appLog.Error("fetch failed: remote markup shape changed", cause)
	case errors.Is(cause, session.ErrAuthTimeout):
		appLog.Warn("fetch failed: interactive login timed out, will retry next cycle")
	default:
		appLog.Warn("fetch failed", "err", cause)
	}

	events, fetchedAt, ok := e.store.Load()
	if !ok {
		appLog.Warn("no cache available, keeping previous state")
		return OutcomeFailedSilent
	}

	now := e.now()
	snapshot := model.BuildSnapshot(events, fetchedAt, model.FreshnessFromCache)
	e.bridge.Publish(snapshot)
	e.reminders.Reschedule(e.todays(events, now), e.cfg.NotificationMinutesBefore)

	return OutcomeFellBackToCache
}

// todays filters the events whose local date is today; reminders are only
// ever installed for the current day.
func (e *Engine) todays(events []model.Event, now time.Time) []model.Event {
	today := model.DayKey(now)
	out := make([]model.Event, 0)
	for _, ev := range events {
		if model.DayKey(ev.Start) == today {
			out = append(out, ev)
		}
	}
	return out
}
