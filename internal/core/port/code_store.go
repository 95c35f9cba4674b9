package port

import (
	"context"
	"time"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
)

// CodeRecord is the stored shape of an outstanding verification code. Only a
// hash of the code is persisted; the raw value never reaches the store.
type CodeRecord struct {
	Purpose   domain.VerificationPurpose
	Contact   string
	CodeHash  string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CodeStore persists at most one outstanding verification code per
// (purpose, contact) pair. Storing a new code supersedes any previous one,
// which is what makes a resend invalidate the earlier code.
type CodeStore interface {
	Store(ctx context.Context, purpose domain.VerificationPurpose, contact, codeHash string, ttl time.Duration) (*CodeRecord, error)
	Fetch(ctx context.Context, purpose domain.VerificationPurpose, contact string) (*CodeRecord, error)
	IncrementAttempts(ctx context.Context, purpose domain.VerificationPurpose, contact string) (int, error)
	Delete(ctx context.Context, purpose domain.VerificationPurpose, contact string) error
}
