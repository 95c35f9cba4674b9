package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestResolveStartsOnPreferencesWithValidCredential(t *testing.T) {
	backend := newBackendMock()
	contact := mustResolve(t, "test@example.com")
	backend.preferences[contact.Normalized] = seededSet(contact)

	store := NewMemoryCredentialStore()
	if err := store.Set(&Credential{Token: "good", Contact: contact}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	resolver := NewInitialStateResolver(backend, store, zaptest.NewLogger(t))
	start := resolver.Resolve(context.Background(), "")

	if start.Kind != StartPreferences {
		t.Fatalf("expected StartPreferences, got %d", start.Kind)
	}
	if start.Session == nil || !start.Session.Loaded() {
		t.Fatal("expected a loaded session")
	}
	if start.Session.Identity().Credential == nil {
		t.Fatal("session must load under the stored credential")
	}
}

func TestResolveFallsBackWhenCredentialRejected(t *testing.T) {
	backend := newBackendMock()
	backend.getErr = &CredentialError{Err: errors.New("token expired: signature check failed at kid=v1")}

	contact := mustResolve(t, "test@example.com")
	store := NewMemoryCredentialStore()
	if err := store.Set(&Credential{Token: "stale", Contact: contact}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	resolver := NewInitialStateResolver(backend, store, zaptest.NewLogger(t))
	start := resolver.Resolve(context.Background(), "")

	if start.Kind != StartFallback {
		t.Fatalf("expected StartFallback, got %d", start.Kind)
	}

	// The credential is gone; the workflow restarts from verification.
	remaining, err := store.Get()
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if remaining != nil {
		t.Fatal("rejected credential must be cleared")
	}

	// Generic message only: no trace of the raw rejection reason.
	if start.Message == "" {
		t.Fatal("expected a generic fallback message")
	}
	if strings.Contains(start.Message, "signature") || strings.Contains(start.Message, "kid=") {
		t.Fatal("raw server error must never surface")
	}
	if start.PrefilledContact != contact.Normalized {
		t.Fatal("fallback should prefill the known contact")
	}
}

func TestResolveKeepsCredentialOnTransientFailure(t *testing.T) {
	backend := newBackendMock()
	backend.getErr = errors.New("connection refused")

	contact := mustResolve(t, "test@example.com")
	store := NewMemoryCredentialStore()
	if err := store.Set(&Credential{Token: "good", Contact: contact}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	resolver := NewInitialStateResolver(backend, store, zaptest.NewLogger(t))
	start := resolver.Resolve(context.Background(), "")

	if start.Kind != StartFallback {
		t.Fatalf("expected StartFallback, got %d", start.Kind)
	}
	remaining, err := store.Get()
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if remaining == nil {
		t.Fatal("transient failure must not clear the credential")
	}
}

func TestResolveCarriedContactPrefillsEntry(t *testing.T) {
	resolver := NewInitialStateResolver(newBackendMock(), NewMemoryCredentialStore(), zaptest.NewLogger(t))

	start := resolver.Resolve(context.Background(), "carried@example.com")
	if start.Kind != StartContactEntry {
		t.Fatalf("expected StartContactEntry, got %d", start.Kind)
	}
	if start.PrefilledContact != "carried@example.com" {
		t.Fatalf("unexpected prefill %q", start.PrefilledContact)
	}
}

func TestResolveBlankEntryByDefault(t *testing.T) {
	resolver := NewInitialStateResolver(newBackendMock(), NewMemoryCredentialStore(), zaptest.NewLogger(t))

	start := resolver.Resolve(context.Background(), "")
	if start.Kind != StartContactEntry || start.PrefilledContact != "" {
		t.Fatal("expected blank contact entry")
	}
}
