package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Tokens is the persisted part of a session.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenStore persists session tokens across launches.
type TokenStore interface {
	// Load returns the stored tokens, or nil when none are stored. A missing
	// or unreadable store means signed-out, never an error the caller must
	// handle differently.
	Load() (*Tokens, error)
	Save(*Tokens) error
	Clear() error
}

// FileTokenStore keeps tokens in a JSON file under the user config dir.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a store at the default location.
func NewFileTokenStore() (*FileTokenStore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return NewFileTokenStoreAt(filepath.Join(dir, "shisuka", "session.json")), nil
}

// NewFileTokenStoreAt creates a store at an explicit path.
func NewFileTokenStoreAt(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Load() (*Tokens, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		// A corrupt store is treated as signed-out.
		return nil, nil
	}
	if t.AccessToken == "" && t.RefreshToken == "" {
		return nil, nil
	}
	return &t, nil
}

func (s *FileTokenStore) Save(t *Tokens) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileTokenStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryTokenStore is an in-memory TokenStore for tests.
type MemoryTokenStore struct {
	tokens *Tokens
}

func (s *MemoryTokenStore) Load() (*Tokens, error) { return s.tokens, nil }
func (s *MemoryTokenStore) Save(t *Tokens) error   { s.tokens = t; return nil }
func (s *MemoryTokenStore) Clear() error           { s.tokens = nil; return nil }
