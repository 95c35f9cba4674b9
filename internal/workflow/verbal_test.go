package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func verbalCatalog() []Program {
	return []Program{
		{ID: "prog-a", Name: "Newsletter", Type: "email", Status: "active"},
		{ID: "prog-b", Name: "Alerts", Type: "sms", Status: "active"},
		{ID: "prog-c", Name: "Digest", Type: "email", Status: "active"},
	}
}

func TestVerbalMergeByNameDropsUnmatchedRecords(t *testing.T) {
	backend := newBackendMock()
	backend.catalog = verbalCatalog()

	contact := mustResolve(t, "+15551234567")
	backend.preferences[contact.Normalized] = &PreferenceSet{
		Contact: contact,
		Programs: []PreferenceRecord{
			{ProgramID: "old-1", ProgramName: "Newsletter", OptedIn: true, LastUpdated: time.Now()},
			{ProgramID: "old-2", ProgramName: "Retired Program", OptedIn: true},
		},
		HasHistory: true,
	}

	coord := NewVerbalOptInCoordinator(backend, "Agent Smith", zaptest.NewLogger(t))
	if err := coord.LoadCatalog(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if err := coord.Begin(context.Background(), "+15551234567"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	records := coord.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 merged records, got %d", len(records))
	}

	byName := make(map[string]PreferenceRecord, len(records))
	for _, rec := range records {
		byName[rec.ProgramName] = rec
	}
	if !byName["Newsletter"].OptedIn {
		t.Fatal("stored opt-in for Newsletter lost in merge")
	}
	if byName["Alerts"].OptedIn || byName["Digest"].OptedIn {
		t.Fatal("catalog entries without history must default to opted-out")
	}
	if _, found := byName["Retired Program"]; found {
		t.Fatal("record with no catalog name match must be dropped")
	}
}

func TestVerbalBeginRequiresCatalog(t *testing.T) {
	coord := NewVerbalOptInCoordinator(newBackendMock(), "Agent Smith", zaptest.NewLogger(t))

	err := coord.Begin(context.Background(), "+15551234567")
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestVerbalSaveNotifiesContactAsynchronously(t *testing.T) {
	backend := newBackendMock()
	backend.catalog = verbalCatalog()

	coord := NewVerbalOptInCoordinator(backend, "Agent Smith", zaptest.NewLogger(t))
	if err := coord.LoadCatalog(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if err := coord.Begin(context.Background(), "contact@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := coord.Toggle("Newsletter"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	notifyCh, err := coord.Save(context.Background(), "verbal consent on call")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if backend.updates != 1 {
		t.Fatal("save must hit the backend once")
	}
	if backend.lastUpdate.identity.Contact == nil {
		t.Fatal("verbal save uses the raw contact identity")
	}

	select {
	case nerr, ok := <-notifyCh:
		if ok && nerr != nil {
			t.Fatalf("unexpected notification error: %v", nerr)
		}
	case <-time.After(time.Second):
		t.Fatal("notification channel never settled")
	}

	if len(backend.sendCalls) != 1 || backend.sendCalls[0] != PurposeVerbalAuth {
		t.Fatal("expected one verbal_auth notification send")
	}
}

func TestVerbalNotificationFailureDoesNotRollBackSave(t *testing.T) {
	backend := newBackendMock()
	backend.catalog = verbalCatalog()
	backend.sendErr = errors.New("smtp relay down")

	coord := NewVerbalOptInCoordinator(backend, "Agent Smith", zaptest.NewLogger(t))
	if err := coord.LoadCatalog(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if err := coord.Begin(context.Background(), "contact@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	notifyCh, err := coord.Save(context.Background(), "")
	if err != nil {
		t.Fatalf("save must succeed despite notification failure: %v", err)
	}
	if backend.updates != 1 {
		t.Fatal("save did not commit")
	}

	select {
	case nerr := <-notifyCh:
		var notifErr *NotificationError
		if !errors.As(nerr, &notifErr) {
			t.Fatalf("expected NotificationError, got %v", nerr)
		}
	case <-time.After(time.Second):
		t.Fatal("notification channel never settled")
	}
}

func TestVerbalSaveFailure(t *testing.T) {
	backend := newBackendMock()
	backend.catalog = verbalCatalog()
	backend.updateErr = errors.New("write timeout")

	coord := NewVerbalOptInCoordinator(backend, "Agent Smith", zaptest.NewLogger(t))
	if err := coord.LoadCatalog(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if err := coord.Begin(context.Background(), "contact@example.com"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err := coord.Save(context.Background(), "")
	var saveErr *SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("expected SaveError, got %v", err)
	}
	if len(backend.sendCalls) != 0 {
		t.Fatal("no notification may fire when the save fails")
	}
}
