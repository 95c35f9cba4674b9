package workflow

import (
	"context"
	"errors"
)

// PreferenceSession loads, locally mutates, and persists one contact's
// consent set under exactly one identity. Toggles touch only local state;
// the backend sees nothing until Save. Failed writes keep the local edits
// so the user retries without re-entering anything.
type PreferenceSession struct {
	backend  Backend
	identity Identity

	set    *PreferenceSet
	loaded bool
	busy   bool
}

// NewPreferenceSession constructs a session bound to one identity.
func NewPreferenceSession(backend Backend, identity Identity) *PreferenceSession {
	return &PreferenceSession{
		backend:  backend,
		identity: identity,
	}
}

// Identity returns the identity this session loads and saves under.
func (s *PreferenceSession) Identity() Identity { return s.identity }

// Set returns the local preference set, nil before a successful Load.
func (s *PreferenceSession) Set() *PreferenceSet { return s.set }

// Loaded reports whether a Load has succeeded.
func (s *PreferenceSession) Loaded() bool { return s.loaded }

// Empty reports that the system has no programs configured at all. This is
// a different state from a contact with no history.
func (s *PreferenceSession) Empty() bool {
	return s.loaded && len(s.set.Programs) == 0
}

// HasHistory reports whether the contact has any recorded preferences.
func (s *PreferenceSession) HasHistory() bool {
	return s.loaded && s.set.HasHistory
}

// Load fetches the preference set. A rejected credential comes back as a
// CredentialError for the bootstrap fallback; any other failure is a
// LoadError. Neither an empty catalog nor an empty history is an error.
func (s *PreferenceSession) Load(ctx context.Context) error {
	if s.busy {
		return ErrBusy
	}

	s.busy = true
	defer func() { s.busy = false }()

	set, err := s.backend.GetPreferences(ctx, s.identity)
	if err != nil {
		var credErr *CredentialError
		if errors.As(err, &credErr) {
			return credErr
		}
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return loadErr
		}
		return &LoadError{Err: err}
	}

	s.set = set
	s.loaded = true
	return nil
}

// Toggle flips one record's opt-in locally. No network effect.
func (s *PreferenceSession) Toggle(programID string) error {
	if !s.loaded {
		return &LoadError{Err: errors.New("preferences not loaded")}
	}
	for i := range s.set.Programs {
		if s.set.Programs[i].ProgramID == programID {
			s.set.Programs[i].OptedIn = !s.set.Programs[i].OptedIn
			return nil
		}
	}
	return &ValidationError{Message: "unknown program"}
}

// Save persists the entire local set, not a diff, under the session's
// identity. On failure local edits stay put.
func (s *PreferenceSession) Save(ctx context.Context, comment string) error {
	if s.busy {
		return ErrBusy
	}
	if !s.loaded {
		return &SaveError{Err: errors.New("preferences not loaded")}
	}

	s.busy = true
	defer func() { s.busy = false }()

	if err := s.backend.UpdatePreferences(ctx, s.identity, s.set.Programs, comment, false); err != nil {
		var saveErr *SaveError
		if errors.As(err, &saveErr) {
			return saveErr
		}
		return &SaveError{Err: err}
	}

	if comment != "" {
		s.set.LastComment = comment
	}
	s.set.HasHistory = true
	return nil
}

// GlobalOptOut issues the atomic opt-out-of-everything request. It needs no
// prior toggles, is idempotent under repetition, and on success forces
// every local record to opted-out regardless of pending edits.
func (s *PreferenceSession) GlobalOptOut(ctx context.Context, comment string) error {
	if s.busy {
		return ErrBusy
	}
	if !s.loaded {
		return &SaveError{Err: errors.New("preferences not loaded")}
	}

	s.busy = true
	defer func() { s.busy = false }()

	if err := s.backend.UpdatePreferences(ctx, s.identity, nil, comment, true); err != nil {
		var saveErr *SaveError
		if errors.As(err, &saveErr) {
			return saveErr
		}
		return &SaveError{Err: err}
	}

	for i := range s.set.Programs {
		s.set.Programs[i].OptedIn = false
	}
	if comment != "" {
		s.set.LastComment = comment
	}
	s.set.HasHistory = true
	return nil
}
