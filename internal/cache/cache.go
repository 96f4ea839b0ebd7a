// Package cache persists the last-known-good schedule so reminders and the
// UI keep working while the remote calendar is unreachable.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	appLog "calbar/internal/log"
	"calbar/internal/model"
)

// eventRecord is the on-disk shape of one event. Times are ISO-8601 with
// offset.
type eventRecord struct {
	Title        string `json:"title"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	IsAllDay     bool   `json:"is_all_day"`
	Location     string `json:"location,omitempty"`
	MeetingURL   string `json:"meeting_url,omitempty"`
	Description  string `json:"description,omitempty"`
	CalendarName string `json:"calendar_name,omitempty"`
}

// Store is the durable last-known-good snapshot. Most recent wins; no
// history is kept.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save overwrites the cache file atomically (temp file + rename), so a crash
// mid-write never leaves a corrupt file behind.
func (s *Store) Save(events []model.Event) error {
	records := make([]eventRecord, 0, len(events))
	for _, e := range events {
		records = append(records, eventRecord{
			Title:        e.Title,
			StartTime:    e.Start.Format(time.RFC3339),
			EndTime:      e.End.Format(time.RFC3339),
			IsAllDay:     e.AllDay,
			Location:     e.Location,
			MeetingURL:   e.MeetingURL,
			Description:  e.Description,
			CalendarName: e.CalendarName,
		})
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calbar-cache-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}

	appLog.Debug("cache saved", "path", s.path, "events", len(records))
	return nil
}

// Load returns the cached events and the time they were fetched (the file's
// modification time). It never fails the caller: a missing or structurally
// invalid file yields ok=false, logged only. Individual malformed records are
// rejected at this boundary and skipped.
func (s *Store) Load() (events []model.Event, fetchedAt time.Time, ok bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			appLog.Warn("cache unreadable, treating as absent", "path", s.path, "err", err)
		}
		return nil, time.Time{}, false
	}

	var records []eventRecord
	if err := json.Unmarshal(data, &records); err != nil {
		appLog.Warn("cache corrupt, treating as absent", "path", s.path, "err", err)
		return nil, time.Time{}, false
	}

	events = make([]model.Event, 0, len(records))
	for _, r := range records {
		e, err := r.toEvent()
		if err != nil {
			appLog.Warn("skipping malformed cache record", "title", r.Title, "reason", err)
			continue
		}
		events = append(events, e)
	}

	fetchedAt = time.Now()
	if info, err := os.Stat(s.path); err == nil {
		fetchedAt = info.ModTime()
	}

	appLog.Info("cache loaded", "path", s.path, "events", len(events))
	return events, fetchedAt, true
}

func (r eventRecord) toEvent() (model.Event, error) {
	start, err := time.Parse(time.RFC3339, r.StartTime)
	if err != nil {
		return model.Event{}, err
	}
	end, err := time.Parse(time.RFC3339, r.EndTime)
	if err != nil {
		return model.Event{}, err
	}

	e := model.Event{
		Title:        r.Title,
		Start:        start,
		End:          end,
		AllDay:       r.IsAllDay,
		Location:     r.Location,
		MeetingURL:   r.MeetingURL,
		Description:  r.Description,
		CalendarName: r.CalendarName,
	}
	if err := e.Validate(); err != nil {
		return model.Event{}, err
	}
	return e, nil
}
