package mirror

import (
	"context"
	"log/slog"
	"sync"
)

// IdentitySource emits identity-changed events. The handler receives the
// signed-in identity, or "" when nobody is signed in. Calling the returned
// function stops further events.
type IdentitySource interface {
	OnIdentityChanged(handler func(identity string)) (unsubscribe func())
}

// Status is a point-in-time view of the manager.
type Status struct {
	Identity string `json:"identity"`
	State    string `json:"state"`
}

// Manager runs at most one Session, following an IdentitySource: on every
// event the current session is stopped first, then a new one is started if
// the event carries an identity.
type Manager struct {
	mirror     *Mirror
	identities IdentitySource
	logger     *slog.Logger

	mu      sync.Mutex // guards current and stopped; held across session switches
	current *Session
	stopped bool
}

// NewManager constructs a Manager. Nothing happens until Start.
func NewManager(m *Mirror, identities IdentitySource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{mirror: m, identities: identities, logger: logger}
}

// Start begins following identity changes and returns the function that stops
// it: it unregisters from the identity source and stops the active session.
// Call Start once per Manager; the returned function may be called any
// number of times.
func (m *Manager) Start() (stop func()) {
	unsubscribe := m.identities.OnIdentityChanged(m.switchTo)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()

			m.mu.Lock()
			defer m.mu.Unlock()
			m.stopped = true
			if m.current != nil {
				m.current.Stop()
				m.current = nil
			}
			m.logger.Info("mirroring stopped")
		})
	}
}

// switchTo stops the running session, if any, before starting the next one,
// so the old identity's subscription is closed by the time the new one opens.
func (m *Manager) switchTo(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if m.current != nil {
		m.current.Stop()
		m.current = nil
	}
	if identity == "" {
		m.logger.Info("no identity; mirroring idle")
		return
	}

	session, err := m.mirror.Start(context.Background(), identity)
	if err != nil {
		m.logger.Error("mirror session failed to start", "identity", identity, "error", err)
		return
	}
	m.current = session
}

// Status reports the identity being mirrored and the session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Status{State: StateIdle.String()}
	}
	return Status{Identity: m.current.Identity(), State: m.current.State().String()}
}
