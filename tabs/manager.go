package tabs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"postdeck/models"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("tabs: session not found")

// Notice is a user-visible confirmation produced by a mutation.
type Notice = models.Notice

// Snapshot is an immutable copy of the manager state.
type Snapshot struct {
	Sessions []models.Session
	ActiveID string
}

// Active returns the active session, or nil when there is none.
func (s Snapshot) Active() *models.Session {
	for i := range s.Sessions {
		if s.Sessions[i].ID == s.ActiveID {
			return &s.Sessions[i]
		}
	}
	return nil
}

// Event is published to subscribers after every mutation.
type Event struct {
	Snapshot Snapshot
	Notice   *Notice
}

// Patch holds the fields to merge into a session. Nil fields are left as
// they are.
type Patch struct {
	Name             *string
	Token            *string
	IsLoggedIn       *bool
	ProfileData      *models.ProfileData
	ClearProfileData bool
}

// Manager owns the session list and the active id. Every mutation is
// persisted through the Store before subscribers see it.
type Manager struct {
	mu        sync.Mutex
	store     *Store
	sessions  []models.Session
	activeID  string
	listeners map[int]func(Event)
	nextSub   int
	newID     func() string
}

func New(store *Store) *Manager {
	return &Manager{
		store:     store,
		listeners: make(map[int]func(Event)),
		newID:     newSessionID,
	}
}

// Open loads the persisted state. When nothing is persisted a default
// "Session 1" is created and saved.
func Open(ctx context.Context, store *Store) (*Manager, error) {
	m := New(store)

	sessions, activeID := store.Load(ctx)
	if len(sessions) == 0 {
		s := m.CreateSession("Session 1")
		sessions = []models.Session{s}
		activeID = s.ID
	}
	m.sessions = sessions
	m.activeID = activeID
	m.heal()

	if err := store.Save(ctx, m.sessions, m.activeID); err != nil {
		return m, err
	}
	return m, nil
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CreateSession builds a logged out session with a fresh id. It does not add
// it to the list.
func (m *Manager) CreateSession(name string) models.Session {
	return models.Session{
		ID:     m.newID(),
		Name:   name,
		Token:  "",
		Active: true,
	}
}

// AddSession appends "Session N" and makes it active.
func (m *Manager) AddSession(ctx context.Context) (models.Session, error) {
	var created models.Session
	err := m.apply(ctx, func() *Notice {
		for i := range m.sessions {
			m.sessions[i].Active = false
		}
		n := len(m.sessions) + 1
		created = m.CreateSession(fmt.Sprintf("Session %d", n))
		m.sessions = append(m.sessions, created)
		m.activeID = created.ID
		return &Notice{
			Title:       "New session created",
			Description: fmt.Sprintf("Session %d has been added.", n),
		}
	})
	return created, err
}

// RemoveSession deletes the session with id. If it was active, the previous
// session by position takes over, or the second one when the first is
// removed.
func (m *Manager) RemoveSession(ctx context.Context, id string) error {
	return m.apply(ctx, func() *Notice {
		if id == m.activeID {
			idx := m.indexOf(id)
			if len(m.sessions) > 1 {
				next := 1
				if idx > 0 {
					next = idx - 1
				}
				m.activeID = m.sessions[next].ID
			} else {
				m.activeID = ""
			}
		}

		kept := m.sessions[:0]
		for _, s := range m.sessions {
			if s.ID != id {
				kept = append(kept, s)
			}
		}
		m.sessions = kept
		return &Notice{
			Title:       "Session closed",
			Description: "The session tab has been removed.",
		}
	})
}

// SelectSession sets the active id. Unknown ids are healed back to the
// first session.
func (m *Manager) SelectSession(ctx context.Context, id string) error {
	return m.apply(ctx, func() *Notice {
		m.activeID = id
		return nil
	})
}

// UpdateSession merges p into the session with id. Unknown ids are ignored.
func (m *Manager) UpdateSession(ctx context.Context, id string, p Patch) error {
	return m.apply(ctx, func() *Notice {
		idx := m.indexOf(id)
		if idx < 0 {
			return nil
		}
		s := &m.sessions[idx]
		if p.Name != nil {
			s.Name = *p.Name
		}
		if p.Token != nil {
			s.Token = *p.Token
		}
		if p.IsLoggedIn != nil {
			s.IsLoggedIn = *p.IsLoggedIn
		}
		if p.ClearProfileData {
			s.ProfileData = nil
		} else if p.ProfileData != nil {
			pd := *p.ProfileData
			s.ProfileData = &pd
		}
		return nil
	})
}

// Login moves a session to LOGGED_IN with the given profile.
func (m *Manager) Login(ctx context.Context, id string, profile models.ProfileData) error {
	if _, ok := m.Session(id); !ok {
		return ErrSessionNotFound
	}
	loggedIn := true
	if err := m.UpdateSession(ctx, id, Patch{IsLoggedIn: &loggedIn, ProfileData: &profile}); err != nil {
		return err
	}
	m.Notify(Notice{
		Title:       "Login successful",
		Description: "You have successfully logged in with Facebook.",
	})
	return nil
}

// Logout moves a session to LOGGED_OUT and drops its profile.
func (m *Manager) Logout(ctx context.Context, id string) error {
	if _, ok := m.Session(id); !ok {
		return ErrSessionNotFound
	}
	loggedIn := false
	if err := m.UpdateSession(ctx, id, Patch{IsLoggedIn: &loggedIn, ClearProfileData: true}); err != nil {
		return err
	}
	m.Notify(Notice{
		Title:       "Logout successful",
		Description: "You have been logged out from Facebook.",
	})
	return nil
}

// Notify publishes a notice without changing state.
func (m *Manager) Notify(n Notice) {
	m.mu.Lock()
	ev := Event{Snapshot: m.snapshot(), Notice: &n}
	listeners := m.subscribers()
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Session returns a copy of the session with id.
func (m *Manager) Session(id string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return models.Session{}, false
	}
	return copySession(m.sessions[idx]), true
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Subscribe registers fn for every subsequent event and returns a func that
// removes it.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) apply(ctx context.Context, mutate func() *Notice) error {
	m.mu.Lock()
	notice := mutate()
	m.heal()
	err := m.store.Save(ctx, m.sessions, m.activeID)
	ev := Event{Snapshot: m.snapshot(), Notice: notice}
	listeners := m.subscribers()
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	return err
}

// heal keeps the active id pointing at an existing session.
func (m *Manager) heal() {
	if len(m.sessions) == 0 {
		m.activeID = ""
		return
	}
	if m.indexOf(m.activeID) < 0 {
		m.activeID = m.sessions[0].ID
	}
}

func (m *Manager) indexOf(id string) int {
	for i, s := range m.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshot() Snapshot {
	sessions := make([]models.Session, len(m.sessions))
	for i, s := range m.sessions {
		sessions[i] = copySession(s)
	}
	return Snapshot{Sessions: sessions, ActiveID: m.activeID}
}

func (m *Manager) subscribers() []func(Event) {
	fns := make([]func(Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func copySession(s models.Session) models.Session {
	if s.ProfileData != nil {
		pd := *s.ProfileData
		s.ProfileData = &pd
	}
	return s
}
