package port

import (
	"context"
	"time"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
)

// StoredPreference is one persisted consent row for a contact.
type StoredPreference struct {
	ProgramID   string
	OptedIn     bool
	LastUpdated time.Time
}

// PreferenceRepository persists per-contact consent records. Writes replace
// the contact's records wholesale; the workflow never submits diffs.
type PreferenceRepository interface {
	GetByContact(ctx context.Context, contact domain.Contact) ([]StoredPreference, error)
	LastComment(ctx context.Context, contact domain.Contact) (string, error)
	ReplaceAll(ctx context.Context, contact domain.Contact, records []StoredPreference, comment string) error
	OptOutAll(ctx context.Context, contact domain.Contact, programIDs []string, comment string) error
}
