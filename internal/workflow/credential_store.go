package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CredentialStore holds at most one credential per active session. It is
// injectable so tests can swap the file-backed store for an in-memory one.
type CredentialStore interface {
	Get() (*Credential, error)
	Set(cred *Credential) error
	Clear() error
}

// MemoryCredentialStore keeps the credential in process memory.
type MemoryCredentialStore struct {
	cred *Credential
}

// NewMemoryCredentialStore constructs an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Get() (*Credential, error) {
	if s.cred == nil {
		return nil, nil
	}
	copied := *s.cred
	return &copied, nil
}

func (s *MemoryCredentialStore) Set(cred *Credential) error {
	if cred == nil {
		s.cred = nil
		return nil
	}
	copied := *cred
	s.cred = &copied
	return nil
}

func (s *MemoryCredentialStore) Clear() error {
	s.cred = nil
	return nil
}

type storedCredential struct {
	Token       string      `json:"token"`
	Contact     string      `json:"contact"`
	ContactType ContactType `json:"contact_type"`
}

// FileCredentialStore persists the credential as a small JSON file, the
// session-survival equivalent of browser-local storage.
type FileCredentialStore struct {
	path string
}

// NewFileCredentialStore constructs a store backed by the given path.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

func (s *FileCredentialStore) Get() (*Credential, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential: %w", err)
	}

	var stored storedCredential
	if err := json.Unmarshal(raw, &stored); err != nil {
		// A corrupt file is treated as absent; the workflow re-verifies.
		return nil, nil
	}
	if stored.Token == "" {
		return nil, nil
	}

	contact, err := ResolveContact(stored.Contact)
	if err != nil {
		return nil, nil
	}

	return &Credential{Token: stored.Token, Contact: contact}, nil
}

func (s *FileCredentialStore) Set(cred *Credential) error {
	if cred == nil {
		return s.Clear()
	}

	raw, err := json.Marshal(storedCredential{
		Token:       cred.Token,
		Contact:     cred.Contact.Normalized,
		ContactType: cred.Contact.Type,
	})
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create credential dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}
