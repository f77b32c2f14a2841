package tabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"postdeck/models"
)

const (
	SessionsKey      = "sessions"
	ActiveSessionKey = "active-session"
)

var ErrNotFound = errors.New("tabs: key not found")

// Storage is a string key-value store scoped to one browser session.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, keys ...string) error
}

// Store reads and writes the whole session collection. It never mutates
// individual records.
type Store struct {
	storage Storage
}

func NewStore(storage Storage) *Store {
	return &Store{storage: storage}
}

// Load returns the persisted sessions and active id. Missing or corrupt data
// is treated as an empty state.
func (s *Store) Load(ctx context.Context) ([]models.Session, string) {
	raw, err := s.storage.Get(ctx, SessionsKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Println("error reading sessions: ", err)
		}
		return nil, ""
	}

	var sessions []models.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		log.Println("discarding unreadable sessions: ", err)
		return nil, ""
	}

	activeID, err := s.storage.Get(ctx, ActiveSessionKey)
	if err != nil {
		activeID = ""
	}
	return sessions, activeID
}

// Save persists the collection and active id. An empty collection clears
// both keys.
func (s *Store) Save(ctx context.Context, sessions []models.Session, activeID string) error {
	if len(sessions) == 0 {
		return s.storage.Remove(ctx, SessionsKey, ActiveSessionKey)
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}
	if err := s.storage.Set(ctx, SessionsKey, string(data)); err != nil {
		return fmt.Errorf("saving sessions: %w", err)
	}

	if activeID == "" {
		return s.storage.Remove(ctx, ActiveSessionKey)
	}
	if err := s.storage.Set(ctx, ActiveSessionKey, activeID); err != nil {
		return fmt.Errorf("saving active session: %w", err)
	}
	return nil
}
