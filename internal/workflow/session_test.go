package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seededSet(contact Contact) *PreferenceSet {
	return &PreferenceSet{
		Contact: contact,
		Programs: []PreferenceRecord{
			{ProgramID: "prog-a", ProgramName: "Newsletter", ProgramType: "email", OptedIn: true, LastUpdated: time.Now()},
			{ProgramID: "prog-b", ProgramName: "Alerts", ProgramType: "sms"},
		},
		LastComment: "initial signup",
		HasHistory:  true,
	}
}

func TestLoadDistinguishesEmptyCatalogFromNoHistory(t *testing.T) {
	backend := newBackendMock()
	contact := mustResolve(t, "test@example.com")

	// No entry at all: the backend reports an empty catalog.
	emptySession := NewPreferenceSession(backend, NewContactIdentity(contact))
	if err := emptySession.Load(context.Background()); err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if !emptySession.Empty() {
		t.Fatal("expected empty-catalog state")
	}

	// Programs exist but the contact has no personal record yet.
	backend.preferences[contact.Normalized] = &PreferenceSet{
		Contact: contact,
		Programs: []PreferenceRecord{
			{ProgramID: "prog-a", ProgramName: "Newsletter", ProgramType: "email"},
		},
		HasHistory: false,
	}
	freshSession := NewPreferenceSession(backend, NewContactIdentity(contact))
	if err := freshSession.Load(context.Background()); err != nil {
		t.Fatalf("load fresh: %v", err)
	}
	if freshSession.Empty() {
		t.Fatal("catalog is not empty")
	}
	if freshSession.HasHistory() {
		t.Fatal("expected no personal history")
	}
}

func TestLoadFailureIsDistinctError(t *testing.T) {
	backend := newBackendMock()
	backend.getErr = errors.New("connection refused")
	session := NewPreferenceSession(backend, NewContactIdentity(mustResolve(t, "test@example.com")))

	err := session.Load(context.Background())
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if session.Loaded() {
		t.Fatal("session must not report loaded after a failed fetch")
	}
}

func TestToggleIsLocalOnly(t *testing.T) {
	backend := newBackendMock()
	contact := mustResolve(t, "test@example.com")
	backend.preferences[contact.Normalized] = seededSet(contact)

	session := NewPreferenceSession(backend, NewContactIdentity(contact))
	if err := session.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := session.Toggle("prog-a"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if session.Set().Programs[0].OptedIn {
		t.Fatal("toggle did not flip local state")
	}
	if backend.updates != 0 {
		t.Fatal("toggle must not touch the backend")
	}

	if err := session.Toggle("prog-zz"); err == nil {
		t.Fatal("unknown program must be rejected")
	}
}

func TestSavePersistsWholeSet(t *testing.T) {
	backend := newBackendMock()
	contact := mustResolve(t, "test@example.com")
	backend.preferences[contact.Normalized] = seededSet(contact)

	session := NewPreferenceSession(backend, NewContactIdentity(contact))
	if err := session.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := session.Toggle("prog-b"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if err := session.Save(context.Background(), "changed my mind"); err != nil {
		t.Fatalf("save: %v", err)
	}

	if backend.updates != 1 {
		t.Fatalf("expected one update, got %d", backend.updates)
	}
	if len(backend.lastUpdate.records) != 2 {
		t.Fatalf("save must send the whole set, got %d records", len(backend.lastUpdate.records))
	}
	if backend.lastUpdate.comment != "changed my mind" {
		t.Fatalf("unexpected comment %q", backend.lastUpdate.comment)
	}
	if backend.lastUpdate.globalOptOut {
		t.Fatal("plain save must not set the global opt-out flag")
	}
}

func TestSaveFailureKeepsLocalEdits(t *testing.T) {
	backend := newBackendMock()
	contact := mustResolve(t, "test@example.com")
	backend.preferences[contact.Normalized] = seededSet(contact)

	session := NewPreferenceSession(backend, NewContactIdentity(contact))
	if err := session.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := session.Toggle("prog-a"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	backend.updateErr = errors.New("write timeout")
	err := session.Save(context.Background(), "")
	var saveErr *SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("expected SaveError, got %v", err)
	}

	// The edit survives for retry.
	if session.Set().Programs[0].OptedIn {
		t.Fatal("local edit lost after failed save")
	}

	backend.updateErr = nil
	if err := session.Save(context.Background(), ""); err != nil {
		t.Fatalf("retry save: %v", err)
	}
}

func TestGlobalOptOutForcesAllFalseAndIsIdempotent(t *testing.T) {
	backend := newBackendMock()
	contact := mustResolve(t, "test@example.com")
	backend.preferences[contact.Normalized] = seededSet(contact)

	session := NewPreferenceSession(backend, NewContactIdentity(contact))
	if err := session.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	// Pending toggles must not matter.
	if err := session.Toggle("prog-b"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	for round := 1; round <= 2; round++ {
		if err := session.GlobalOptOut(context.Background(), "do not contact me"); err != nil {
			t.Fatalf("round %d: global opt-out: %v", round, err)
		}
		for _, rec := range session.Set().Programs {
			if rec.OptedIn {
				t.Fatalf("round %d: program %s still opted in", round, rec.ProgramID)
			}
		}
		if !backend.lastUpdate.globalOptOut {
			t.Fatalf("round %d: global opt-out flag not sent", round)
		}
	}
}

func TestCredentialRejectionSurfacesAsCredentialError(t *testing.T) {
	backend := newBackendMock()
	backend.getErr = &CredentialError{Err: errors.New("token expired")}

	cred := &Credential{Token: "stale", Contact: mustResolve(t, "test@example.com")}
	session := NewPreferenceSession(backend, NewCredentialIdentity(cred))

	err := session.Load(context.Background())
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
}
