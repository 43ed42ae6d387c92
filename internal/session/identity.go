package session

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// Identity is the logged-in account state the engine consumes but does not
// own. It is written by the login flow and sampled by the engine at session
// start and on each poll, so an account switch mid-flight is detectable.
type Identity struct {
	Username string `toml:"username"`
	Token    string `toml:"token"`
	Locale   string `toml:"locale"`
}

// Source yields the identity the engine should currently act as.
type Source interface {
	// Current returns the active identity, or ok=false when logged out.
	Current() (Identity, bool)
}

// Store is a file-backed identity source. Every Current call re-reads the
// file, so changes made by another process are picked up at the next sample
// point rather than requiring a restart.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates an identity store over the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Current implements Source.
func (s *Store) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id Identity
	if _, err := toml.DecodeFile(s.path, &id); err != nil {
		return Identity{}, false
	}
	if id.Username == "" {
		return Identity{}, false
	}
	return id, true
}

// Save persists a new identity, replacing any previous one.
func (s *Store) Save(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(&id)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Clear removes the stored identity (logout).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
