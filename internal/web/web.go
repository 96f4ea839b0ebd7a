// Package web exposes a small local status API over the latest schedule
// snapshot: health, the event list as JSON or ICS, and a manual-refresh
// trigger.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"

	"calbar/internal/bridge"
	"calbar/internal/config"
	appLog "calbar/internal/log"
	"calbar/internal/model"
)

// Server serves the status API. Reads go through the state bridge's latest
// snapshot; the only write-ish operation is the coalesced refresh trigger.
type Server struct {
	cfg     *config.Config
	bridge  *bridge.Bridge
	trigger func(reason string) bool
	mux     *http.ServeMux
}

// NewServer constructs a new Server. trigger requests a refresh cycle and
// reports whether one was started.
func NewServer(cfg *config.Config, br *bridge.Bridge, trigger func(reason string) bool) *Server {
	s := &Server{
		cfg:     cfg,
		bridge:  br,
		trigger: trigger,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/events.ics", s.handleEventsICS)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Treat empty username or password as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calbar", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiEvent mirrors the cache file's record shape.
type apiEvent struct {
	Title        string `json:"title"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	IsAllDay     bool   `json:"is_all_day"`
	Location     string `json:"location,omitempty"`
	MeetingURL   string `json:"meeting_url,omitempty"`
	Description  string `json:"description,omitempty"`
	CalendarName string `json:"calendar_name,omitempty"`
}

type eventsResponse struct {
	Freshness string     `json:"freshness"`
	FetchedAt string     `json:"fetched_at"`
	Events    []apiEvent `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.bridge.Latest()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot yet"})
		return
	}

	resp := eventsResponse{
		Freshness: string(snap.Freshness),
		FetchedAt: snap.FetchedAt.Format(time.RFC3339),
		Events:    make([]apiEvent, 0, len(snap.Events)),
	}
	for _, e := range snap.Events {
		if e.AllDay && !s.cfg.ShowAllDayEvents {
			continue
		}
		resp.Events = append(resp.Events, apiEvent{
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
	writeJSON(w, http.StatusOK, resp)
}

// handleEventsICS serves the latest snapshot as an iCalendar document so
// other local tools can subscribe to the last-known-good schedule.
func (s *Server) handleEventsICS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.bridge.Latest()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//calbar//calbar//EN")

	for i, e := range snap.Events {
		ev := cal.AddEvent(icsUID(i, e))
		ev.SetSummary(e.Title)
		ev.SetDtStampTime(snap.FetchedAt)
		if e.AllDay {
			ev.SetAllDayStartAt(e.Start)
			ev.SetAllDayEndAt(e.End)
		} else {
			ev.SetStartAt(e.Start)
			ev.SetEndAt(e.End)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.MeetingURL != "" {
			ev.SetURL(e.MeetingURL)
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if _, err := w.Write([]byte(cal.Serialize())); err != nil {
		appLog.Error("ics response write failed", err)
	}
}

func icsUID(i int, e model.Event) string {
	return fmt.Sprintf("calbar-%d-%s@local", i, e.Start.Format("20060102T150405"))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	started := s.trigger("api")
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("json response write failed", err)
	}
}
