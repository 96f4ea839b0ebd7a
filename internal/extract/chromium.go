package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	appLog "calbar/internal/log"
)

const (
	weekViewURL = "https://calendar.google.com/calendar/r/week"

	// Opening calendar.google.com unauthenticated redirects to a marketing
	// page, so interactive login goes through accounts.google.com with a
	// continue target instead.
	loginURL = "https://accounts.google.com/ServiceLogin" +
		"?continue=https://calendar.google.com/calendar/r/week"

	// authenticatedMarker is present only when the calendar main view is
	// rendered for a signed-in account.
	authenticatedMarker = `[data-view-heading]`

	allDayChipSelector = `[data-eventid][data-allday="true"], [aria-label][role="button"][data-eventchip]`
	timedChipSelector  = `[data-eventid]:not([data-allday="true"]), [role="button"][data-eventchip]`
	detailSelector     = `[role="dialog"], [data-eventdetails]`
	dateHeaderSelector = `[data-datekey]`
)

// ChromiumLauncher launches Chromium sessions on a persistent user profile so
// the remote login survives across runs.
type ChromiumLauncher struct {
	// ProfilePath is the durable user-data directory.
	ProfilePath string

	// Headless controls background sessions; Launch(ctx, headed=true)
	// overrides it for interactive login.
	Headless bool
}

// Launch starts a Chromium session and returns it as a Port.
func (l *ChromiumLauncher) Launch(parentCtx context.Context, headed bool) (Port, error) {
	if l.ProfilePath == "" {
		return nil, fmt.Errorf("chromium: profile path is required")
	}
	if err := os.MkdirAll(l.ProfilePath, 0o700); err != nil {
		return nil, fmt.Errorf("chromium: create profile dir: %w", err)
	}
	removeSingletonLock(l.ProfilePath)

	headless := l.Headless && !headed

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(l.ProfilePath),
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 900),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx)

	// Force browser start now so launch failures surface here, not on the
	// first navigation.
	if err := chromedp.Run(ctx); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("chromium: launch failed: %w", err)
	}

	appLog.Debug("chromium session started", "headless", headless, "profile", l.ProfilePath)

	return &chromiumPort{
		ctx:         ctx,
		ctxCancel:   ctxCancel,
		allocCancel: allocCancel,
	}, nil
}

// removeSingletonLock clears a stale Chromium SingletonLock left behind by an
// unclean shutdown; a leftover lock makes the next persistent-profile launch
// fail.
func removeSingletonLock(profilePath string) {
	if err := os.Remove(filepath.Join(profilePath, "SingletonLock")); err != nil && !os.IsNotExist(err) {
		appLog.Debug("could not remove SingletonLock", "err", err)
	}
}

type chromiumPort struct {
	ctx         context.Context
	ctxCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

func (p *chromiumPort) NavigateWeekView(ctx context.Context, _ Window) error {
	// The week view URL always shows the week containing today; per-window
	// navigation would go through the view's date picker, which has no
	// stable structure. The parser assigns dates from the rendered headers.
	if err := p.run(ctx, 60*time.Second,
		chromedp.Navigate(weekViewURL),
		// Let the view finish its async rendering passes.
		chromedp.Sleep(2*time.Second),
	); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return nil
}

func (p *chromiumPort) NavigateLogin(ctx context.Context) error {
	if err := p.run(ctx, 60*time.Second, chromedp.Navigate(loginURL)); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return nil
}

func (p *chromiumPort) ProbeAuthenticated(ctx context.Context, wait time.Duration) bool {
	err := p.run(ctx, wait, chromedp.WaitVisible(authenticatedMarker, chromedp.ByQuery))
	return err == nil
}

func (p *chromiumPort) WeekDates(ctx context.Context) ([]time.Time, error) {
	var keys []string
	js := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => el.getAttribute("data-datekey") || "")`,
		dateHeaderSelector,
	)
	if err := p.run(ctx, 10*time.Second, chromedp.Evaluate(js, &keys)); err != nil {
		return nil, fmt.Errorf("chromium: read date headers: %w", err)
	}

	var dates []time.Time
	seen := make(map[string]bool)
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		// Header keys use YYYYMMDD.
		d, err := time.ParseInLocation("20060102", key, time.Local)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func (p *chromiumPort) ListAllDayEntries(ctx context.Context) ([]RawEntry, error) {
	return p.listEntries(ctx, allDayChipSelector)
}

func (p *chromiumPort) ListTimedEntries(ctx context.Context) ([]RawEntry, error) {
	return p.listEntries(ctx, timedChipSelector)
}

func (p *chromiumPort) listEntries(ctx context.Context, selector string) ([]RawEntry, error) {
	var labels []string
	js := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => el.getAttribute("aria-label") || el.textContent || "")`,
		selector,
	)
	if err := p.run(ctx, 10*time.Second, chromedp.Evaluate(js, &labels)); err != nil {
		return nil, fmt.Errorf("chromium: list entries: %w", err)
	}

	entries := make([]RawEntry, 0, len(labels))
	for i, label := range labels {
		entries = append(entries, RawEntry{Index: i, Label: label})
	}
	return entries, nil
}

func (p *chromiumPort) OpenDetail(ctx context.Context, entry RawEntry) (string, error) {
	clickJS := fmt.Sprintf(
		`(() => { const els = document.querySelectorAll(%q); if (els[%d]) { els[%d].click(); return true; } return false; })()`,
		timedChipSelector, entry.Index, entry.Index,
	)
	var clicked bool
	if err := p.run(ctx, 10*time.Second,
		chromedp.Evaluate(clickJS, &clicked),
		chromedp.Sleep(500*time.Millisecond),
	); err != nil {
		return "", fmt.Errorf("chromium: open detail: %w", err)
	}
	if !clicked {
		return "", fmt.Errorf("chromium: entry %d not present in view", entry.Index)
	}

	// Popup text plus every link target, so the URL matchers see hrefs that
	// are not part of the visible text.
	detailJS := fmt.Sprintf(
		`(() => {
			const panel = document.querySelector(%q);
			if (!panel) return "";
			const links = Array.from(panel.querySelectorAll("a[href]")).map(a => a.href);
			return panel.textContent + "\n" + links.join("\n");
		})()`,
		detailSelector,
	)
	var text string
	if err := p.run(ctx, 10*time.Second, chromedp.Evaluate(detailJS, &text)); err != nil {
		return "", fmt.Errorf("chromium: read detail: %w", err)
	}
	return text, nil
}

func (p *chromiumPort) CloseDetail(ctx context.Context) error {
	return p.run(ctx, 10*time.Second,
		chromedp.KeyEvent(kb.Escape),
		chromedp.Sleep(300*time.Millisecond),
	)
}

func (p *chromiumPort) Close() error {
	p.ctxCancel()
	p.allocCancel()
	return nil
}

// run executes tasks against the browser tab, bounded by the caller's context
// and the given timeout, whichever ends first.
func (p *chromiumPort) run(ctx context.Context, timeout time.Duration, tasks ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, tasks...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}
