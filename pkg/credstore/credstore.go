// Package credstore holds the locally persisted session artifact: the bearer
// token, its decoded identity claims and the local issuance timestamp. The
// three fields are stored and cleared as one unit; a partially cleared
// credential is a defect.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoCredential reports that no credential is currently stored. Readers
// treat it as "not authenticated", which may be observed at any time,
// including immediately after an expiry-triggered clear.
var ErrNoCredential = errors.New("credstore: no credential stored")

// Identity is the decoded claim set of the bearer token.
type Identity struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Admin    bool      `json:"is_admin"`
	IssuedAt time.Time `json:"issued_at"`
	Expiry   time.Time `json:"expiry"`
}

// Credential is the session artifact. StoredAt is the local wall-clock time
// the credential was accepted, which anchors the absolute session lifetime
// independently of the token's own exp claim.
type Credential struct {
	Token    string    `json:"token"`
	Identity Identity  `json:"identity"`
	StoredAt time.Time `json:"stored_at"`
}

// Store is the process-local credential holder. The session machine is the
// only writer; any component may read.
type Store interface {
	// Set replaces the stored credential.
	Set(Credential) error

	// Get returns the stored credential or ErrNoCredential.
	Get() (Credential, error)

	// Clear removes the credential. Clearing an empty store is a no-op.
	Clear() error
}

// FileStore persists the credential as a single JSON file so that a session
// survives process restarts. A single file keeps the token, identity and
// issuance timestamp atomic: they appear and disappear together.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by the file at path. The parent
// directory is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Set(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credstore: create directory: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("credstore: encode credential: %w", err)
	}

	// Write-then-rename so a crash never leaves a torn credential behind.
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("credstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("credstore: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("credstore: write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credstore: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("credstore: replace credential file: %w", err)
	}

	return nil
}

func (s *FileStore) Get() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, ErrNoCredential
	}
	if err != nil {
		return Credential{}, fmt.Errorf("credstore: read credential file: %w", err)
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return Credential{}, fmt.Errorf("credstore: decode credential: %w", err)
	}
	if c.Token == "" {
		return Credential{}, ErrNoCredential
	}

	return c, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credstore: remove credential file: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and short-lived processes.
type MemStore struct {
	mu   sync.Mutex
	cred Credential
	held bool
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Set(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = c
	s.held = true
	return nil
}

func (s *MemStore) Get() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return Credential{}, ErrNoCredential
	}
	return s.cred, nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
	s.held = false
	return nil
}

// Token implements the bearer-token source consumed by the API client.
// Absent credentials yield an empty token.
func Token(s Store) string {
	c, err := s.Get()
	if err != nil {
		return ""
	}
	return c.Token
}
