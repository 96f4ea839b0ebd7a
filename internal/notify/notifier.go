package notify

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/gen2brain/beeep"

	appLog "calbar/internal/log"
)

// terminalNotifierCandidates are checked besides PATH; Homebrew installs
// outside the default login PATH on both Apple Silicon and Intel.
var terminalNotifierCandidates = []string{
	"/opt/homebrew/bin/terminal-notifier",
	"/usr/local/bin/terminal-notifier",
}

// DesktopNotifier delivers reminders through terminal-notifier when it is
// installed, falling back to a portable desktop notification otherwise.
//
// The fallback channel cannot attach a click action, so when a meeting URL is
// present it is opened immediately instead of on click.
type DesktopNotifier struct {
	// binPath caches the resolved terminal-notifier path. Empty means
	// unresolved or absent; re-resolved on each delivery attempt so a
	// freshly installed binary is picked up.
	binPath string
}

func NewDesktopNotifier() *DesktopNotifier {
	n := &DesktopNotifier{}
	n.binPath = resolveTerminalNotifier()
	if n.binPath != "" {
		appLog.Info("notifier channel: terminal-notifier", "path", n.binPath)
	} else {
		appLog.Info("notifier channel: desktop fallback (terminal-notifier not found)")
	}
	return n
}

func resolveTerminalNotifier() string {
	if path, err := exec.LookPath("terminal-notifier"); err == nil {
		return path
	}
	for _, candidate := range terminalNotifierCandidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// Notify delivers one reminder. Never retries; the returned error is for the
// caller's log only.
func (n *DesktopNotifier) Notify(title, body, actionURL string) error {
	if n.binPath == "" {
		n.binPath = resolveTerminalNotifier()
	}
	if n.binPath != "" {
		err := n.notifyTerminalNotifier(title, body, actionURL)
		if err == nil {
			return nil
		}
		appLog.Warn("terminal-notifier delivery failed, using fallback channel", "err", err)
		n.binPath = ""
	}
	return n.notifyFallback(title, body, actionURL)
}

func (n *DesktopNotifier) notifyTerminalNotifier(title, body, actionURL string) error {
	args := []string{
		"-title", title,
		"-message", body,
		"-sound", "default",
		"-group", "calbar",
	}
	if actionURL != "" {
		args = append(args, "-open", actionURL)
	}

	cmd := exec.Command(n.binPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("terminal-notifier: %w (%s)", err, truncate(string(out), 200))
	}
	return nil
}

func (n *DesktopNotifier) notifyFallback(title, body, actionURL string) error {
	if err := beeep.Notify(title, body, ""); err != nil {
		return fmt.Errorf("fallback notification: %w", err)
	}
	// Known limitation of the fallback channel: no click action, so the
	// meeting link is opened right away.
	if actionURL != "" {
		if err := OpenURL(actionURL); err != nil {
			appLog.Warn("could not open meeting url", "url", actionURL, "err", err)
		}
	}
	return nil
}

// OpenURL opens a URL with the platform's default handler.
func OpenURL(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
