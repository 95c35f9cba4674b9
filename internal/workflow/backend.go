package workflow

import (
	"context"
	"time"
)

// Credential is the ephemeral bearer token proving a contact's verified
// ownership of their identifier. At most one exists per active session.
type Credential struct {
	Token   string
	Contact Contact
}

// Identity selects how a backend request is authorized: a credential when
// one exists, the raw contact otherwise. Exactly one field is populated.
type Identity struct {
	Credential *Credential
	Contact    *Contact
}

// NewCredentialIdentity wraps a credential as a request identity.
func NewCredentialIdentity(cred *Credential) Identity {
	return Identity{Credential: cred}
}

// NewContactIdentity wraps a raw contact as a request identity.
func NewContactIdentity(contact Contact) Identity {
	return Identity{Contact: &contact}
}

// Program is one server-owned catalog entry, read-only from this workflow.
type Program struct {
	ID     string
	Name   string
	Type   string
	Status string
}

// PreferenceRecord is one per-program consent decision.
type PreferenceRecord struct {
	ProgramID   string
	ProgramName string
	ProgramType string
	OptedIn     bool
	LastUpdated time.Time
}

// PreferenceSet is a contact's consent state as returned by the backend.
// HasHistory distinguishes "no personal record yet" from a stored one; an
// empty Programs slice means the system has no programs configured at all.
type PreferenceSet struct {
	Contact     Contact
	Programs    []PreferenceRecord
	LastComment string
	HasHistory  bool
}

// SendCodeResult acknowledges a code request. DevCode is populated only
// when the backend runs outside production.
type SendCodeResult struct {
	Accepted  bool
	DevCode   string
	ExpiresAt time.Time
}

// Backend is the transport-agnostic contract the workflow consumes. The
// HTTP implementation lives in the httpapi subpackage.
type Backend interface {
	SendCode(ctx context.Context, contact Contact, purpose Purpose, actorName string) (*SendCodeResult, error)
	VerifyCode(ctx context.Context, contact Contact, code string) (*Credential, error)
	GetPreferences(ctx context.Context, identity Identity) (*PreferenceSet, error)
	UpdatePreferences(ctx context.Context, identity Identity, records []PreferenceRecord, comment string, globalOptOut bool) error
	ListPrograms(ctx context.Context) ([]Program, error)
}
