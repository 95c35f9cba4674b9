package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// backendMock is a hand-rolled in-memory backend. It models the supersede
// rule: each SendCode replaces the outstanding code for the contact.
type backendMock struct {
	codes       map[string]string
	nextCode    int
	devEcho     bool
	sendErr     error
	sendCalls   []Purpose
	preferences map[string]*PreferenceSet
	catalog     []Program
	getErr      error
	updateErr   error
	updates     int
	lastUpdate  struct {
		identity     Identity
		records      []PreferenceRecord
		comment      string
		globalOptOut bool
	}
}

func newBackendMock() *backendMock {
	return &backendMock{
		codes:       make(map[string]string),
		preferences: make(map[string]*PreferenceSet),
	}
}

func (m *backendMock) SendCode(_ context.Context, contact Contact, purpose Purpose, _ string) (*SendCodeResult, error) {
	m.sendCalls = append(m.sendCalls, purpose)
	if m.sendErr != nil {
		return nil, m.sendErr
	}

	m.nextCode++
	code := fmt.Sprintf("%06d", m.nextCode)
	m.codes[contact.Normalized] = code

	result := &SendCodeResult{Accepted: true, ExpiresAt: time.Now().Add(10 * time.Minute)}
	if m.devEcho {
		result.DevCode = code
	}
	return result, nil
}

func (m *backendMock) VerifyCode(_ context.Context, contact Contact, code string) (*Credential, error) {
	current, ok := m.codes[contact.Normalized]
	if !ok || current != code {
		return nil, &VerificationError{Message: "verification code invalid"}
	}
	delete(m.codes, contact.Normalized)
	return &Credential{Token: "token-" + contact.Normalized, Contact: contact}, nil
}

func (m *backendMock) GetPreferences(_ context.Context, identity Identity) (*PreferenceSet, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}

	var key string
	switch {
	case identity.Credential != nil:
		key = identity.Credential.Contact.Normalized
	case identity.Contact != nil:
		key = identity.Contact.Normalized
	}
	if set, ok := m.preferences[key]; ok {
		copied := *set
		copied.Programs = append([]PreferenceRecord(nil), set.Programs...)
		return &copied, nil
	}
	return &PreferenceSet{Programs: nil}, nil
}

func (m *backendMock) UpdatePreferences(_ context.Context, identity Identity, records []PreferenceRecord, comment string, globalOptOut bool) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates++
	m.lastUpdate.identity = identity
	m.lastUpdate.records = append([]PreferenceRecord(nil), records...)
	m.lastUpdate.comment = comment
	m.lastUpdate.globalOptOut = globalOptOut
	return nil
}

func (m *backendMock) ListPrograms(context.Context) ([]Program, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.catalog, nil
}

func mustResolve(t *testing.T, raw string) Contact {
	t.Helper()
	contact, err := ResolveContact(raw)
	if err != nil {
		t.Fatalf("resolve %q: %v", raw, err)
	}
	return contact
}

func TestVerifyCodeSuccessTransitionsToVerified(t *testing.T) {
	backend := newBackendMock()
	backend.devEcho = true
	coord := NewVerificationCoordinator(backend, WithDevMode(true))
	contact := mustResolve(t, "test@example.com")

	if err := coord.RequestCode(context.Background(), contact, PurposeSelfService, ""); err != nil {
		t.Fatalf("request code: %v", err)
	}
	if coord.State() != StateCodeRequested {
		t.Fatalf("expected CodeRequested, got %s", coord.State())
	}

	cred, err := coord.VerifyCode(context.Background(), coord.DevCode())
	if err != nil {
		t.Fatalf("verify code: %v", err)
	}
	if coord.State() != StateVerified {
		t.Fatalf("expected Verified, got %s", coord.State())
	}
	if cred == nil || coord.Credential() == nil {
		t.Fatal("expected a credential after verification")
	}
	if cred.Contact.Normalized != contact.Normalized {
		t.Fatal("credential bound to wrong contact")
	}
}

func TestVerifyCodeFailureStaysOnCodeEntry(t *testing.T) {
	backend := newBackendMock()
	coord := NewVerificationCoordinator(backend)
	contact := mustResolve(t, "test@example.com")

	if err := coord.RequestCode(context.Background(), contact, PurposeSelfService, ""); err != nil {
		t.Fatalf("request code: %v", err)
	}

	cred, err := coord.VerifyCode(context.Background(), "000000")
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if cred != nil || coord.Credential() != nil {
		t.Fatal("credential must remain nil after a failed verify")
	}
	if coord.State() != StateCodeRequested {
		t.Fatalf("expected CodeRequested, got %s", coord.State())
	}
	if coord.Err() == nil {
		t.Fatal("expected the error to be retained for display")
	}
}

func TestResendSupersedesPreviousCode(t *testing.T) {
	backend := newBackendMock()
	backend.devEcho = true
	coord := NewVerificationCoordinator(backend, WithDevMode(true))
	contact := mustResolve(t, "test@example.com")

	if err := coord.RequestCode(context.Background(), contact, PurposeSelfService, ""); err != nil {
		t.Fatalf("request code: %v", err)
	}
	oldCode := coord.DevCode()

	// Put the coordinator into an error state first; resend must clear it.
	if _, err := coord.VerifyCode(context.Background(), "000000"); err == nil {
		t.Fatal("expected wrong-code error")
	}

	if err := coord.Resend(context.Background()); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if coord.Err() != nil {
		t.Fatal("resend must clear the pending error")
	}

	if _, err := coord.VerifyCode(context.Background(), oldCode); err == nil {
		t.Fatal("old code must fail after resend")
	}
	if _, err := coord.VerifyCode(context.Background(), coord.DevCode()); err != nil {
		t.Fatalf("new code must verify: %v", err)
	}
}

func TestVerbalAuthDoesNotAdvanceToCodeEntry(t *testing.T) {
	backend := newBackendMock()
	coord := NewVerificationCoordinator(backend)
	contact := mustResolve(t, "+15551234567")

	if err := coord.RequestCode(context.Background(), contact, PurposeVerbalAuth, "Agent Smith"); err != nil {
		t.Fatalf("request code: %v", err)
	}
	if coord.State() != StateIdle {
		t.Fatalf("verbal purpose must not advance, got %s", coord.State())
	}
	if len(backend.sendCalls) != 1 || backend.sendCalls[0] != PurposeVerbalAuth {
		t.Fatal("expected one verbal send call")
	}
}

func TestDevCodeHiddenOutsideDevMode(t *testing.T) {
	backend := newBackendMock()
	backend.devEcho = true
	coord := NewVerificationCoordinator(backend)
	contact := mustResolve(t, "test@example.com")

	if err := coord.RequestCode(context.Background(), contact, PurposeSelfService, ""); err != nil {
		t.Fatalf("request code: %v", err)
	}
	if coord.DevCode() != "" {
		t.Fatal("dev code must be hidden outside dev mode")
	}
}

func TestRequestCodeRejectsMalformedContact(t *testing.T) {
	coord := NewVerificationCoordinator(newBackendMock())

	err := coord.RequestCode(context.Background(), Contact{Value: "not-a-contact"}, PurposeSelfService, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if coord.State() != StateIdle {
		t.Fatal("validation failure must not change state")
	}
}

func TestRestartReturnsToIdle(t *testing.T) {
	backend := newBackendMock()
	coord := NewVerificationCoordinator(backend)
	contact := mustResolve(t, "test@example.com")

	if err := coord.RequestCode(context.Background(), contact, PurposeSelfService, ""); err != nil {
		t.Fatalf("request code: %v", err)
	}

	coord.Restart()
	if coord.State() != StateIdle || coord.Credential() != nil || coord.Err() != nil {
		t.Fatal("restart must drop all flow state")
	}
}
