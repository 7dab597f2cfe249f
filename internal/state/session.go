// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/agentrelay/internal/types"
)

// SessionStore is a JSON-file-backed store for the single active session,
// kept at <root>/session.json. The file is read once and cached.
type SessionStore struct {
	root string

	mu      sync.RWMutex
	loaded  bool
	current *types.Session
}

// NewSessionStore creates a new file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

// Path returns the session file path.
func (s *SessionStore) Path() string {
	return filepath.Join(s.root, "session.json")
}

func (s *SessionStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read session: %w", err)
	}

	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	if sess.SessionID != "" {
		s.current = &sess
	}
	s.loaded = true
	return nil
}

// Current returns a copy of the active session, or nil if there is none.
func (s *SessionStore) Current(_ context.Context) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	if s.current == nil {
		return nil, nil
	}
	cp := *s.current
	return &cp, nil
}

// Update replaces the active session. A zero LastActivity is set to now.
func (s *SessionStore) Update(_ context.Context, session *types.Session) error {
	if session == nil || session.SessionID == "" {
		return fmt.Errorf("update session: empty session id")
	}
	cp := *session
	if cp.LastActivity.IsZero() {
		cp.LastActivity = time.Now()
	}

	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.Path(), data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.current = &cp
	s.loaded = true
	return nil
}

// Clear forgets the active session and reports whether there was one.
func (s *SessionStore) Clear(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return false, err
	}
	had := s.current != nil
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("remove session: %w", err)
	}
	s.current = nil
	return had, nil
}
