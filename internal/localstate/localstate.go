// Package localstate persists the fast-access client state as a single JSON
// file: the remembered-user cache shown on the login screen, the signed
// current session, and the active remember-me token. The file is the
// device-local complement to the SQL record store and can always be rebuilt
// from it.
package localstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"taskdesk/internal/models"
)

// State is the on-disk shape of the local state file.
type State struct {
	RememberedUsers []models.RememberedUser `json:"remembered_users"`
	CurrentSession  string                  `json:"current_session,omitempty"`
	CurrentToken    string                  `json:"current_token,omitempty"`
}

// Store owns a state file. All accessors take a snapshot-modify-write
// approach under a single mutex, so concurrent callers never observe a
// partially applied change.
type Store struct {
	path string

	mu          sync.Mutex
	state       State
	subscribers []chan struct{}
}

// Open loads the state file at path, creating an empty state when the file
// does not exist yet. A corrupt file is treated as empty rather than fatal,
// since everything in it can be rebuilt from the record store.
func Open(path string) (*Store, error) {
	store := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &store.state); err != nil {
		store.state = State{}
	}
	return store, nil
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyState()
}

// RememberedUsers returns a copy of the cached remembered users in their
// stored order
func (s *Store) RememberedUsers() []models.RememberedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]models.RememberedUser, len(s.state.RememberedUsers))
	copy(users, s.state.RememberedUsers)
	return users
}

// PutRememberedUser adds a remembered user to the cache. An entry with the
// same email is replaced in place; the cache never holds two entries for one
// account.
func (s *Store) PutRememberedUser(user models.RememberedUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := models.NormalizeEmail(user.Email)
	user.Email = email

	replaced := false
	for i, existing := range s.state.RememberedUsers {
		if models.NormalizeEmail(existing.Email) == email {
			s.state.RememberedUsers[i] = user
			replaced = true
			break
		}
	}
	if !replaced {
		s.state.RememberedUsers = append(s.state.RememberedUsers, user)
	}

	return s.persist()
}

// RemoveRememberedUserByToken drops the cache entry holding the given token.
// The bool reports whether an entry was removed.
func (s *Store) RemoveRememberedUserByToken(token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.state.RememberedUsers[:0]
	removed := false
	for _, user := range s.state.RememberedUsers {
		if user.Token == token {
			removed = true
			continue
		}
		kept = append(kept, user)
	}
	s.state.RememberedUsers = kept

	if !removed {
		return false, nil
	}
	return true, s.persist()
}

// RemoveRememberedUserByEmail drops the cache entry for the given email.
// The bool reports whether an entry was removed.
func (s *Store) RemoveRememberedUserByEmail(email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = models.NormalizeEmail(email)
	kept := s.state.RememberedUsers[:0]
	removed := false
	for _, user := range s.state.RememberedUsers {
		if models.NormalizeEmail(user.Email) == email {
			removed = true
			continue
		}
		kept = append(kept, user)
	}
	s.state.RememberedUsers = kept

	if !removed {
		return false, nil
	}
	return true, s.persist()
}

// SetRememberedUsers replaces the whole cache, used when rebuilding it from
// the record store
func (s *Store) SetRememberedUsers(users []models.RememberedUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.RememberedUsers = make([]models.RememberedUser, len(users))
	copy(s.state.RememberedUsers, users)
	return s.persist()
}

// CurrentSession returns the stored signed session blob, or "" when no
// session is active
func (s *Store) CurrentSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentSession
}

// SetCurrentSession stores the signed session blob; pass "" to clear it
func (s *Store) SetCurrentSession(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentSession = session
	return s.persist()
}

// CurrentToken returns the active remember-me token, or "" when none is set
func (s *Store) CurrentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentToken
}

// SetCurrentToken stores the active remember-me token; pass "" to clear it
func (s *Store) SetCurrentToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentToken = token
	return s.persist()
}

// Reset clears the entire state file
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	return s.persist()
}

// Subscribe returns a channel that receives a signal after every persisted
// change. The signal is advisory: slow receivers miss intermediate updates
// but always get one for the latest write.
func (s *Store) Subscribe() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{}, 1)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// persist writes the state atomically via a temp file rename. Callers must
// hold s.mu.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// copyState returns a deep enough copy of the state. Callers must hold s.mu.
func (s *Store) copyState() State {
	users := make([]models.RememberedUser, len(s.state.RememberedUsers))
	copy(users, s.state.RememberedUsers)
	return State{
		RememberedUsers: users,
		CurrentSession:  s.state.CurrentSession,
		CurrentToken:    s.state.CurrentToken,
	}
}
