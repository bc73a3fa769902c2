package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tokens is what a client persists between requests.
type Tokens struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken,omitempty"`
	AccessExpiresAt time.Time `json:"accessExpiresAt,omitempty"`
}

// TokenStore persists Tokens.  Load reports false when nothing usable is
// stored.
type TokenStore interface {
	Load() (Tokens, bool)
	Save(Tokens) error
	Clear() error
}

// MemoryStore keeps tokens for the life of the process.
type MemoryStore struct {
	mu sync.RWMutex
	t  Tokens
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load() (Tokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t, s.t.AccessToken != ""
}

func (s *MemoryStore) Save(t Tokens) error {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.t = Tokens{}
	s.mu.Unlock()
	return nil
}

// FileStore keeps tokens in a JSON file readable only by the owner.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (s *FileStore) Load() (Tokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		return Tokens{}, false
	}
	var t Tokens
	if err := json.Unmarshal(b, &t); err != nil {
		return Tokens{}, false
	}
	return t, t.AccessToken != ""
}

// Save replaces the file atomically.
func (s *FileStore) Save(t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("client.FileStore.Save: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("client.FileStore.Save: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return fmt.Errorf("client.FileStore.Save: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("client.FileStore.Save: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("client.FileStore.Save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("client.FileStore.Save: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("client.FileStore.Save: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("client.FileStore.Clear: %w", err)
	}
	return nil
}

// MultiStore writes to every store and reads from the first one that has
// tokens, so a session survives whichever store is still intact.
type MultiStore []TokenStore

func (m MultiStore) Load() (Tokens, bool) {
	for _, s := range m {
		if t, ok := s.Load(); ok {
			return t, true
		}
	}
	return Tokens{}, false
}

func (m MultiStore) Save(t Tokens) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiStore) Clear() error {
	var errs []error
	for _, s := range m {
		if err := s.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
