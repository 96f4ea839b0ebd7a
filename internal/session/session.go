// Package session owns the authenticated-session lifecycle against the
// remote calendar: silent probe first, interactive escalation when the probe
// fails, and persistence of the session material in the durable browser
// profile.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"calbar/internal/extract"
	appLog "calbar/internal/log"
)

// State is the session lifecycle state, owned exclusively by the Manager.
type State string

const (
	NoSession                State = "no_session"
	Authenticated            State = "authenticated"
	AwaitingInteractiveLogin State = "awaiting_interactive_login"
	Expired                  State = "expired"
)

var (
	// ErrAuthTimeout means interactive login was not completed within the
	// bound. The caller retries on the next cycle instead of blocking.
	ErrAuthTimeout = errors.New("interactive login timed out")

	// ErrAuthAborted means the acquire was cancelled before login completed.
	ErrAuthAborted = errors.New("interactive login aborted")
)

const (
	defaultProbeTimeout = 5 * time.Second
	defaultLoginTimeout = 300 * time.Second
)

// Manager guarantees callers always either obtain a session that passed the
// authenticated-marker probe, or a clearly classified failure.
type Manager struct {
	launcher extract.Launcher

	probeTimeout time.Duration
	loginTimeout time.Duration

	// mu serializes acquires. This makes interactive escalation mutually
	// exclusive: a concurrent caller blocks here and then finds the freshly
	// persisted session on its own probe instead of spawning a second login.
	mu    sync.Mutex
	state State
}

// Option adjusts Manager bounds, mainly for tests.
type Option func(*Manager)

func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.probeTimeout = d }
}

func WithLoginTimeout(d time.Duration) Option {
	return func(m *Manager) { m.loginTimeout = d }
}

func NewManager(launcher extract.Launcher, opts ...Option) *Manager {
	m := &Manager{
		launcher:     launcher,
		probeTimeout: defaultProbeTimeout,
		loginTimeout: defaultLoginTimeout,
		state:        NoSession,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Acquire returns a session whose week view passed the authenticated probe.
// The caller owns the returned port and must Close it when the fetch is done.
//
// Failure classification: extract.ErrNetworkUnavailable when the remote is
// unreachable, ErrAuthTimeout when the interactive bound elapsed,
// ErrAuthAborted when ctx was cancelled mid-login.
func (m *Manager) Acquire(ctx context.Context) (extract.Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	port, err := m.openAndProbe(ctx)
	if err == nil {
		m.state = Authenticated
		return port, nil
	}
	if errors.Is(err, extract.ErrNetworkUnavailable) || ctx.Err() != nil {
		return nil, err
	}

	// Probe failed on a reachable remote: the persisted session is either
	// absent or revoked.
	if m.state == Authenticated {
		m.state = Expired
	}

	appLog.Info("session probe failed, escalating to interactive login",
		"state", string(m.state), "login_timeout", m.loginTimeout)
	m.state = AwaitingInteractiveLogin

	if err := m.interactiveLogin(ctx); err != nil {
		m.state = Expired
		return nil, err
	}

	// Login persisted session material into the profile; a fresh headless
	// session must now pass the probe.
	port, err = m.openAndProbe(ctx)
	if err != nil {
		m.state = Expired
		return nil, fmt.Errorf("probe after interactive login: %w", err)
	}

	m.state = Authenticated
	appLog.Info("session authenticated")
	return port, nil
}

// openAndProbe launches a headless session, loads the week view and runs the
// bounded authenticated-marker probe. On any failure the session is closed.
func (m *Manager) openAndProbe(ctx context.Context) (extract.Port, error) {
	port, err := m.launcher.Launch(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := port.NavigateWeekView(ctx, extract.CurrentWeek(time.Now())); err != nil {
		port.Close()
		return nil, err
	}
	if !port.ProbeAuthenticated(ctx, m.probeTimeout) {
		port.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthAborted, ctx.Err())
		}
		return nil, errors.New("authenticated marker not found")
	}
	return port, nil
}

// interactiveLogin runs the visible login flow and blocks, bounded by the
// login timeout, until the authenticated marker appears.
func (m *Manager) interactiveLogin(ctx context.Context) error {
	port, err := m.launcher.Launch(ctx, true)
	if err != nil {
		return err
	}
	defer port.Close()

	if err := port.NavigateLogin(ctx); err != nil {
		return err
	}

	appLog.Info("waiting for user to complete login in the visible browser")

	if !port.ProbeAuthenticated(ctx, m.loginTimeout) {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrAuthAborted, ctx.Err())
		}
		return ErrAuthTimeout
	}

	// Closing the session flushes cookies into the durable profile.
	return nil
}
