// Package directory lists joinable sessions. A host registers a session and
// uses the returned id as its preferred peer identifier.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("directory: session not found")
	ErrDuplicateID     = errors.New("directory: duplicate session id")
	ErrInvalidName     = errors.New("directory: display name required")
)

// Session is one joinable game.
type Session struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Directory is the lookup service the netplay layer consumes.
type Directory interface {
	List(ctx context.Context) ([]Session, error)
	Register(ctx context.Context, displayName string) (Session, error)
	Unregister(ctx context.Context, id string) error
}

// Store is an in-memory Directory. When live is set, List hides sessions
// whose host identifier is no longer claimed.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
	live     func(id string) bool
}

// NewStore constructs an empty directory.
func NewStore(now func() time.Time, live func(id string) bool) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{sessions: make(map[string]Session), now: now, live: live}
}

func (s *Store) List(context.Context) ([]Session, error) {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	if s.live != nil {
		filtered := out[:0]
		for _, session := range out {
			if s.live(session.ID) {
				filtered = append(filtered, session)
			}
		}
		out = filtered
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Register(_ context.Context, displayName string) (Session, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Session{}, ErrInvalidName
	}
	session := Session{ID: "skate-" + uuid.NewString()[:8], DisplayName: displayName, CreatedAt: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return Session{}, ErrDuplicateID
	}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *Store) Unregister(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; !exists {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}
