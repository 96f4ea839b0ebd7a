package eventsource

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"calbar/internal/model"
)

// meetingURLPatterns is the ordered list of conferencing-link matchers.
// First match wins.
var meetingURLPatterns = []*regexp.Regexp{
	// Google Meet short-code links.
	regexp.MustCompile(`https://meet\.google\.com/[a-z]{3}-[a-z]{4}-[a-z]{3}`),
	// Zoom numeric-room links with optional password query.
	regexp.MustCompile(`https://[\w.-]*zoom\.us/j/\d+(?:\?pwd=[\w]+)?`),
	// Microsoft Teams join-token links.
	regexp.MustCompile(`https://teams\.microsoft\.com/l/meetup-join/[\w%.-]+`),
	// Webex domain path links.
	regexp.MustCompile(`https://[\w.-]*\.webex\.com/[\w/.-]+`),
}

// ExtractMeetingURL returns the first recognized conferencing URL in text, or
// the empty string when none matches.
func ExtractMeetingURL(text string) string {
	if text == "" {
		return ""
	}
	for _, pattern := range meetingURLPatterns {
		if m := pattern.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

var timeFormats = []string{
	// 12-hour forms.
	"3:04 PM", "3:04PM", "3 PM", "3PM",
	// 24-hour forms.
	"15:04", "15:04:05",
}

// parseTimeString parses a clock string ("9:00", "09:00", "9:00 AM", "2 PM")
// onto the given reference date.
func parseTimeString(s string, ref time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, format := range timeFormats {
		t, err := time.Parse(format, strings.ToUpper(s))
		if err != nil {
			continue
		}
		y, m, d := ref.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, ref.Location()), true
	}
	return time.Time{}, false
}

// rangeSeparator covers hyphen, en/em dash and the CJK tildes the remote view
// uses between start and end times.
var rangeSeparator = regexp.MustCompile(`\s*[–—\-～〜]\s*`)

// parseTimeRange parses "9:00 - 10:00" style ranges onto the reference date.
// Either returned time may be zero when its side failed to parse.
func parseTimeRange(s string, ref time.Time) (start, end time.Time) {
	parts := rangeSeparator.Split(s, 2)
	if len(parts) != 2 {
		return start, end
	}
	if t, ok := parseTimeString(parts[0], ref); ok {
		start = t
	}
	if t, ok := parseTimeString(parts[1], ref); ok {
		end = t
	}
	return start, end
}

// EventFromDOM converts raw scraped fields into a validated Event.
//
// Bounds default to the all-day convention (midnight to next midnight); a
// parsed time range narrows them. A range with only a start gets a one-hour
// default duration. The meeting URL is recovered from the detail text first,
// then from the location.
func EventFromDOM(title, timeInfo string, day time.Time, detailText, location, calendarName string, allDay bool) model.Event {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	if !allDay && timeInfo != "" {
		parsedStart, parsedEnd := parseTimeRange(timeInfo, day)
		if !parsedStart.IsZero() {
			start = parsedStart
			if !parsedEnd.IsZero() {
				end = parsedEnd
			} else {
				end = parsedStart.Add(time.Hour)
			}
		} else if !parsedEnd.IsZero() {
			end = parsedEnd
		}
	}

	meetingURL := ExtractMeetingURL(detailText)
	if meetingURL == "" {
		meetingURL = ExtractMeetingURL(location)
	}

	return model.Event{
		Title:        strings.TrimSpace(title),
		Start:        start,
		End:          end,
		AllDay:       allDay,
		Location:     strings.TrimSpace(location),
		MeetingURL:   meetingURL,
		Description:  strings.TrimSpace(detailText),
		CalendarName: strings.TrimSpace(calendarName),
	}
}

var (
	// Accessibility labels carry the time range in local clock form,
	// e.g. "Sync meeting, 2月14日 金曜日, 9:00～10:00".
	labelTimeRange = regexp.MustCompile(`(\d{1,2}:\d{2})\s*[–—\-～〜]\s*(\d{1,2}:\d{2})`)
	labelClock     = regexp.MustCompile(`\d{1,2}:\d{2}`)
	labelDate      = regexp.MustCompile(`(\d{1,2})月(\d{1,2})日`)
	labelWeekday   = regexp.MustCompile(`\d{1,2}月\d{1,2}日\s*[月火水木金土日]曜日?`)
	labelCommaRuns = regexp.MustCompile(`[,、]\s*`)
	labelSpaceRuns = regexp.MustCompile(`\s+`)
)

const untitledEvent = "（タイトルなし）"

// ParseTimedLabel parses a timed entry's accessibility label into an Event.
// Labels without a recognizable time range are reported as not-timed; the
// caller decides whether that is a skip or an all-day chip.
func ParseTimedLabel(label string, weekDates []time.Time) (model.Event, bool) {
	match := labelTimeRange.FindStringSubmatch(label)
	if match == nil {
		return model.Event{}, false
	}
	timeInfo := match[1] + " - " + match[2]

	// The residue after stripping time and date fragments is the title.
	title := labelTimeRange.ReplaceAllString(label, "")
	title = labelWeekday.ReplaceAllString(title, "")
	title = labelCommaRuns.ReplaceAllString(title, " ")
	title = strings.TrimSpace(labelSpaceRuns.ReplaceAllString(title, " "))
	if title == "" {
		title = untitledEvent
	}

	day := dateFromLabel(label, weekDates)
	return EventFromDOM(title, timeInfo, day, "", "", "", false), true
}

// IsAllDayLabel reports whether a chip label looks like an all-day entry:
// no clock time anywhere in it.
func IsAllDayLabel(label string) bool {
	return !labelClock.MatchString(label)
}

var kanjiWeekdays = map[string]time.Weekday{
	"月": time.Monday, "火": time.Tuesday, "水": time.Wednesday,
	"木": time.Thursday, "金": time.Friday, "土": time.Saturday, "日": time.Sunday,
}

// dateFromLabel recovers the entry's date from its label, preferring an
// explicit month/day, then a weekday name resolved against the week's dates,
// then today.
func dateFromLabel(label string, weekDates []time.Time) time.Time {
	loc := time.Local
	if len(weekDates) > 0 {
		loc = weekDates[0].Location()
	}

	if m := labelDate.FindStringSubmatch(label); m != nil {
		month, _ := strconv.Atoi(m[1])
		mday, _ := strconv.Atoi(m[2])
		year := time.Now().In(loc).Year()
		candidate := time.Date(year, time.Month(month), mday, 0, 0, 0, 0, loc)
		// Prefer the matching week date so the year is right around
		// new year boundaries.
		for _, d := range weekDates {
			if d.Month() == candidate.Month() && d.Day() == candidate.Day() {
				return d
			}
		}
		return candidate
	}

	for name, wd := range kanjiWeekdays {
		if strings.Contains(label, name+"曜") {
			for _, d := range weekDates {
				if d.Weekday() == wd {
					return d
				}
			}
		}
	}

	now := time.Now().In(loc)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
