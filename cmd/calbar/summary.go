package main

import (
	"fmt"
	"time"

	"calbar/internal/config"
	"calbar/internal/model"
)

// summaryLine renders the one-line "next event" view of a snapshot, the
// moral equivalent of a menu-bar title.
func summaryLine(snap *model.Snapshot, conf *config.Config, now time.Time) string {
	day, ok := snap.Day(now)
	if !ok {
		return "本日の予定終了"
	}

	next, ok := day.NextTimedEvent(now)
	if !ok {
		return "本日の予定終了"
	}

	minutes := int(next.Start.Sub(now).Minutes())
	return fmt.Sprintf("%s %s (%s)",
		next.Start.Format("15:04"),
		truncateTitle(next.Title, conf.MaxTitleLength),
		formatMinutesRemaining(minutes),
	)
}

// truncateTitle trims a title to at most max runes, appending an ellipsis.
func truncateTitle(title string, max int) string {
	runes := []rune(title)
	if len(runes) <= max {
		return title
	}
	return string(runes[:max]) + "..."
}

// formatMinutesRemaining humanizes a minutes-until value.
func formatMinutesRemaining(minutes int) string {
	switch {
	case minutes < 0:
		return "開始済み"
	case minutes == 0:
		return "まもなく"
	case minutes < 60:
		return fmt.Sprintf("%d分後", minutes)
	}
	hours := minutes / 60
	rest := minutes % 60
	if rest == 0 {
		return fmt.Sprintf("%d時間後", hours)
	}
	return fmt.Sprintf("%d時間%d分後", hours, rest)
}
