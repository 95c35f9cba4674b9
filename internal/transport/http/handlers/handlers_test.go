package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/core/port"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/config"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/security"
	"github.com/kenjohansen/optin-manager-sub000/internal/repository"
	"github.com/kenjohansen/optin-manager-sub000/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type codeStoreMock struct {
	records map[string]*port.CodeRecord
	now     func() time.Time
}

func newCodeStoreMock(now func() time.Time) *codeStoreMock {
	return &codeStoreMock{records: make(map[string]*port.CodeRecord), now: now}
}

func (m *codeStoreMock) key(purpose domain.VerificationPurpose, contact string) string {
	return string(purpose) + ":" + contact
}

func (m *codeStoreMock) Store(_ context.Context, purpose domain.VerificationPurpose, contact, codeHash string, ttl time.Duration) (*port.CodeRecord, error) {
	now := m.now()
	record := &port.CodeRecord{
		Purpose:   purpose,
		Contact:   contact,
		CodeHash:  codeHash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.records[m.key(purpose, contact)] = record
	return record, nil
}

func (m *codeStoreMock) Fetch(_ context.Context, purpose domain.VerificationPurpose, contact string) (*port.CodeRecord, error) {
	record, ok := m.records[m.key(purpose, contact)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (m *codeStoreMock) IncrementAttempts(_ context.Context, purpose domain.VerificationPurpose, contact string) (int, error) {
	record, ok := m.records[m.key(purpose, contact)]
	if !ok {
		return 0, repository.ErrNotFound
	}
	record.Attempts++
	return record.Attempts, nil
}

func (m *codeStoreMock) Delete(_ context.Context, purpose domain.VerificationPurpose, contact string) error {
	delete(m.records, m.key(purpose, contact))
	return nil
}

type rateLimitStoreMock struct {
	attempts map[string][]time.Time
}

func newRateLimitStoreMock() *rateLimitStoreMock {
	return &rateLimitStoreMock{attempts: make(map[string][]time.Time)}
}

func (m *rateLimitStoreMock) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	m.attempts[identifier] = append(m.attempts[identifier], at)
	return nil
}

func (m *rateLimitStoreMock) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	count := 0
	for _, at := range m.attempts[identifier] {
		if !at.Before(reference.Add(-window)) {
			count++
		}
	}
	return count, nil
}

func (m *rateLimitStoreMock) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	kept := m.attempts[identifier][:0]
	for _, at := range m.attempts[identifier] {
		if !at.Before(reference.Add(-window)) {
			kept = append(kept, at)
		}
	}
	m.attempts[identifier] = kept
	return nil
}

func (m *rateLimitStoreMock) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	var oldest time.Time
	found := false
	for _, at := range m.attempts[identifier] {
		if at.Before(reference.Add(-window)) {
			continue
		}
		if !found || at.Before(oldest) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}

type programRepoMock struct {
	programs []domain.Program
}

func (m *programRepoMock) ListActive(context.Context) ([]domain.Program, error) {
	var active []domain.Program
	for _, p := range m.programs {
		if p.Status == domain.ProgramStatusActive {
			active = append(active, p)
		}
	}
	return active, nil
}

func (m *programRepoMock) List(context.Context) ([]domain.Program, error) {
	return m.programs, nil
}

func (m *programRepoMock) GetByID(_ context.Context, id string) (*domain.Program, error) {
	for _, p := range m.programs {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *programRepoMock) Create(_ context.Context, program domain.Program) error {
	m.programs = append(m.programs, program)
	return nil
}

type preferenceRepoMock struct {
	stored  map[string][]port.StoredPreference
	comment map[string]string
}

func newPreferenceRepoMock() *preferenceRepoMock {
	return &preferenceRepoMock{
		stored:  make(map[string][]port.StoredPreference),
		comment: make(map[string]string),
	}
}

func (m *preferenceRepoMock) GetByContact(_ context.Context, contact domain.Contact) ([]port.StoredPreference, error) {
	return m.stored[contact.Value], nil
}

func (m *preferenceRepoMock) LastComment(_ context.Context, contact domain.Contact) (string, error) {
	return m.comment[contact.Value], nil
}

func (m *preferenceRepoMock) ReplaceAll(_ context.Context, contact domain.Contact, records []port.StoredPreference, comment string) error {
	m.stored[contact.Value] = records
	if comment != "" {
		m.comment[contact.Value] = comment
	}
	return nil
}

func (m *preferenceRepoMock) OptOutAll(_ context.Context, contact domain.Contact, programIDs []string, comment string) error {
	records := make([]port.StoredPreference, 0, len(programIDs))
	for _, id := range programIDs {
		records = append(records, port.StoredPreference{ProgramID: id})
	}
	return m.ReplaceAll(context.Background(), contact, records, comment)
}

type eventPublisherMock struct{}

func (eventPublisherMock) PublishVerificationRequested(context.Context, domain.VerificationRequestedEvent) error {
	return nil
}

func (eventPublisherMock) PublishConsentUpdated(context.Context, domain.ConsentUpdatedEvent) error {
	return nil
}

type capturingDispatcher struct {
	sent []VerificationNotification
}

func (d *capturingDispatcher) SendVerificationCode(_ context.Context, payload VerificationNotification) error {
	d.sent = append(d.sent, payload)
	return nil
}

func testAppConfig() *config.AppConfig {
	cfg := &config.AppConfig{}
	cfg.Verification.CodeLength = 6
	cfg.Verification.CodeTTL = 10 * time.Minute
	cfg.Verification.MaxAttempts = 5
	cfg.RateLimit.WindowDuration = time.Minute
	cfg.RateLimit.SendMaxAttempts = 3
	return cfg
}

func testCredentialIssuer(t *testing.T) *security.CredentialIssuer {
	t.Helper()
	issuer, err := security.NewCredentialIssuer("test-secret-0123456789", "optin-test", time.Hour)
	if err != nil {
		t.Fatalf("new credential issuer: %v", err)
	}
	return issuer
}

type handlerFixture struct {
	router      *gin.Engine
	codes       *codeStoreMock
	dispatcher  *capturingDispatcher
	programs    *programRepoMock
	preferences *preferenceRepoMock
	issuer      *security.CredentialIssuer
}

func newHandlerFixture(t *testing.T, devMode bool) *handlerFixture {
	t.Helper()

	log := zaptest.NewLogger(t)
	issuer := testCredentialIssuer(t)
	codes := newCodeStoreMock(time.Now)

	verification := usecase.NewVerificationService(testAppConfig(), codes, newRateLimitStoreMock(), eventPublisherMock{}, issuer, log)

	programs := &programRepoMock{programs: []domain.Program{
		{ID: "prog-a", Name: "Newsletter", Type: domain.ProgramTypeEmail, Status: domain.ProgramStatusActive},
		{ID: "prog-b", Name: "Alerts", Type: domain.ProgramTypeSMS, Status: domain.ProgramStatusActive},
		{ID: "prog-c", Name: "Archive", Type: domain.ProgramTypeEmail, Status: domain.ProgramStatusPaused},
	}}
	preferences := newPreferenceRepoMock()

	preferenceSvc := usecase.NewPreferenceService(programs, preferences, eventPublisherMock{}, issuer, log)
	catalogSvc := usecase.NewCatalogService(programs)

	dispatcher := &capturingDispatcher{}

	router := gin.New()
	api := router.Group("/api/v1")
	NewVerificationHandler(verification, log,
		WithNotificationDispatcher(dispatcher),
		WithDevMode(devMode),
	).RegisterRoutes(api.Group("/verification"))
	NewPreferenceHandler(preferenceSvc, log).RegisterRoutes(api.Group("/preferences"))
	NewProgramHandler(catalogSvc, log).RegisterRoutes(api.Group("/programs"))

	return &handlerFixture{
		router:      router,
		codes:       codes,
		dispatcher:  dispatcher,
		programs:    programs,
		preferences: preferences,
		issuer:      issuer,
	}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSendCodeDispatchesNotification(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/verification/send", SendCodeRequest{
		Contact:     "user@example.com",
		ContactType: "email",
		Purpose:     "self_service",
	}, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SendCodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("expected accepted response")
	}
	if resp.DevCode != "" {
		t.Fatal("dev code must not be echoed outside dev mode")
	}

	if len(f.dispatcher.sent) != 1 {
		t.Fatalf("expected one dispatched notification, got %d", len(f.dispatcher.sent))
	}
	if f.dispatcher.sent[0].Code == "" {
		t.Fatal("dispatched notification missing code")
	}
}

func TestSendCodeDevModeEchoesCode(t *testing.T) {
	f := newHandlerFixture(t, true)

	rec := f.do(t, http.MethodPost, "/api/v1/verification/send", SendCodeRequest{
		Contact:     "user@example.com",
		ContactType: "email",
		Purpose:     "self_service",
	}, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SendCodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DevCode == "" {
		t.Fatal("expected dev code in dev mode")
	}
	if resp.DevCode != f.dispatcher.sent[0].Code {
		t.Fatal("dev code should match the dispatched code")
	}
}

func TestSendCodeRejectsUnknownContactType(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/verification/send", SendCodeRequest{
		Contact:     "user@example.com",
		ContactType: "carrier-pigeon",
		Purpose:     "self_service",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSendCodeRateLimited(t *testing.T) {
	f := newHandlerFixture(t, false)

	body := SendCodeRequest{Contact: "user@example.com", ContactType: "email", Purpose: "self_service"}
	for i := 0; i < 3; i++ {
		if rec := f.do(t, http.MethodPost, "/api/v1/verification/send", body, nil); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i+1, rec.Code)
		}
	}

	rec := f.do(t, http.MethodPost, "/api/v1/verification/send", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on rate limited response")
	}
}

func TestVerifyCodeIssuesCredential(t *testing.T) {
	f := newHandlerFixture(t, true)

	send := f.do(t, http.MethodPost, "/api/v1/verification/send", SendCodeRequest{
		Contact:     "user@example.com",
		ContactType: "email",
		Purpose:     "self_service",
	}, nil)
	var sent SendCodeResponse
	if err := json.Unmarshal(send.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode send response: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/verification/verify", VerifyCodeRequest{
		Contact:     "user@example.com",
		ContactType: "email",
		Code:        sent.DevCode,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp VerifyCodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a credential token")
	}

	contact, err := f.issuer.Verify(resp.Token)
	if err != nil {
		t.Fatalf("issued credential failed verification: %v", err)
	}
	if contact.Value != "user@example.com" {
		t.Fatalf("credential carries wrong subject %q", contact.Value)
	}
}

func TestVerifyCodeWrongCode(t *testing.T) {
	f := newHandlerFixture(t, true)

	f.do(t, http.MethodPost, "/api/v1/verification/send", SendCodeRequest{
		Contact:     "user@example.com",
		ContactType: "email",
		Purpose:     "self_service",
	}, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/verification/verify", VerifyCodeRequest{
		Contact:     "user@example.com",
		ContactType: "email",
		Code:        "000000",
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for wrong code, got %d", rec.Code)
	}
}

func TestGetPreferencesWithCredential(t *testing.T) {
	f := newHandlerFixture(t, false)

	token, err := f.issuer.Issue(domain.Contact{Value: "user@example.com", Type: domain.ContactTypeEmail})
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	f.preferences.stored["user@example.com"] = []port.StoredPreference{
		{ProgramID: "prog-a", OptedIn: true, LastUpdated: time.Now()},
	}
	f.preferences.comment["user@example.com"] = "spoke with agent"

	rec := f.do(t, http.MethodGet, "/api/v1/preferences", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp PreferencesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.HasHistory {
		t.Fatal("expected history flag for stored preferences")
	}
	if resp.LastComment != "spoke with agent" {
		t.Fatalf("unexpected last comment %q", resp.LastComment)
	}
	// Only active programs appear, merged with stored state.
	if len(resp.Programs) != 2 {
		t.Fatalf("expected 2 active programs, got %d", len(resp.Programs))
	}
	for _, p := range resp.Programs {
		if p.ID == "prog-a" && !p.OptedIn {
			t.Fatal("stored opt-in lost in merge")
		}
		if p.ID == "prog-b" && p.OptedIn {
			t.Fatal("unexpected opt-in for program without history")
		}
	}
}

func TestGetPreferencesExpiredCredential(t *testing.T) {
	f := newHandlerFixture(t, false)

	issuer := testCredentialIssuer(t)
	issuer.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	token, err := issuer.Issue(domain.Contact{Value: "user@example.com", Type: domain.ContactTypeEmail})
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/preferences", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired credential, got %d", rec.Code)
	}
}

func TestGetPreferencesRejectsAmbiguousIdentity(t *testing.T) {
	f := newHandlerFixture(t, false)

	token, err := f.issuer.Issue(domain.Contact{Value: "user@example.com", Type: domain.ContactTypeEmail})
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/preferences?contact=user%40example.com&contact_type=email", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for ambiguous identity, got %d", rec.Code)
	}
}

func TestUpdatePreferencesReplacesSet(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := f.do(t, http.MethodPut, "/api/v1/preferences", UpdatePreferencesRequest{
		Contact: &ContactPayload{Value: "user@example.com", Type: "email"},
		Programs: []UpdatePreferenceRecord{
			{ProgramID: "prog-a", OptedIn: true},
			{ProgramID: "prog-b", OptedIn: false},
		},
		Comment: "updated online",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored := f.preferences.stored["user@example.com"]
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(stored))
	}
}

func TestUpdatePreferencesUnknownProgram(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := f.do(t, http.MethodPut, "/api/v1/preferences", UpdatePreferencesRequest{
		Contact: &ContactPayload{Value: "user@example.com", Type: "email"},
		Programs: []UpdatePreferenceRecord{
			{ProgramID: "prog-zz", OptedIn: true},
		},
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown program, got %d", rec.Code)
	}
}

func TestUpdatePreferencesGlobalOptOut(t *testing.T) {
	f := newHandlerFixture(t, false)

	body := UpdatePreferencesRequest{
		Contact: &ContactPayload{Value: "user@example.com", Type: "email"},
		Programs: []UpdatePreferenceRecord{
			{ProgramID: "prog-a", OptedIn: true},
		},
		GlobalOptOut: true,
	}

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPut, "/api/v1/preferences", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("round %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	for _, record := range f.preferences.stored["user@example.com"] {
		if record.OptedIn {
			t.Fatalf("program %s still opted in after global opt-out", record.ProgramID)
		}
	}
}

func TestListProgramsActiveOnly(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/v1/programs", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload []ProgramPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("expected 2 active programs, got %d", len(payload))
	}
	for _, p := range payload {
		if p.Status != string(domain.ProgramStatusActive) {
			t.Fatalf("program %s is not active", p.ID)
		}
	}
}

func TestCreateProgram(t *testing.T) {
	f := newHandlerFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/v1/programs", createProgramRequest{
		Name: "Promotions",
		Type: "sms",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload ProgramPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.ID == "" || payload.Status != string(domain.ProgramStatusActive) {
		t.Fatalf("unexpected created program %+v", payload)
	}

	found := false
	for _, p := range f.programs.programs {
		if p.ID == payload.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("created program missing from repository")
	}
}
