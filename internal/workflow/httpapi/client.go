// Package httpapi implements the workflow backend contract over HTTP
// against the consent service API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kenjohansen/optin-manager-sub000/internal/workflow"
)

const defaultTimeout = 15 * time.Second

// Client talks to the consent service API and implements workflow.Backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client, used in tests and for
// custom transports.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient constructs a client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type errorResponse struct {
	Error string `json:"error"`
}

type sendCodeRequest struct {
	Contact     string `json:"contact"`
	ContactType string `json:"contact_type"`
	Purpose     string `json:"purpose"`
	ActorName   string `json:"actor_name,omitempty"`
}

type sendCodeResponse struct {
	Accepted  bool      `json:"accepted"`
	ExpiresAt time.Time `json:"expires_at"`
	DevCode   string    `json:"dev_code"`
}

// SendCode requests a one-time code (or, for the verbal purpose, a consent
// change notice) for the contact.
func (c *Client) SendCode(ctx context.Context, contact workflow.Contact, purpose workflow.Purpose, actorName string) (*workflow.SendCodeResult, error) {
	body := sendCodeRequest{
		Contact:     contact.Normalized,
		ContactType: string(contact.Type),
		Purpose:     string(purpose),
		ActorName:   actorName,
	}

	var resp sendCodeResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/api/v1/verification/send", "", body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusAccepted {
		return nil, fmt.Errorf("send code: unexpected status %d", status)
	}

	return &workflow.SendCodeResult{
		Accepted:  resp.Accepted,
		DevCode:   resp.DevCode,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

type verifyCodeRequest struct {
	Contact     string `json:"contact"`
	ContactType string `json:"contact_type"`
	Code        string `json:"code"`
}

type verifyCodeResponse struct {
	Token string `json:"token"`
}

// VerifyCode exchanges a submitted code for a credential. Wrong, expired,
// and attempt-capped codes all come back as a VerificationError carrying
// the service's user-facing message.
func (c *Client) VerifyCode(ctx context.Context, contact workflow.Contact, code string) (*workflow.Credential, error) {
	body := verifyCodeRequest{
		Contact:     contact.Normalized,
		ContactType: string(contact.Type),
		Code:        code,
	}

	var resp verifyCodeResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/api/v1/verification/verify", "", body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("verify code: unexpected status %d", status)
	}
	if resp.Token == "" {
		return nil, &workflow.VerificationError{Message: "verification failed"}
	}

	return &workflow.Credential{Token: resp.Token, Contact: contact}, nil
}

type preferenceProgramPayload struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	OptedIn     bool       `json:"opted_in"`
	LastUpdated *time.Time `json:"last_updated"`
}

type preferencesResponse struct {
	Contact struct {
		Value string `json:"value"`
		Type  string `json:"type"`
	} `json:"contact"`
	Programs    []preferenceProgramPayload `json:"programs"`
	LastComment string                     `json:"last_comment"`
	HasHistory  bool                       `json:"has_history"`
}

// GetPreferences loads the consent set under the given identity.
func (c *Client) GetPreferences(ctx context.Context, identity workflow.Identity) (*workflow.PreferenceSet, error) {
	token, contact, err := splitIdentity(identity)
	if err != nil {
		return nil, err
	}

	path := "/api/v1/preferences"
	if contact != nil {
		query := url.Values{}
		query.Set("contact", contact.Normalized)
		query.Set("contact_type", string(contact.Type))
		path += "?" + query.Encode()
	}

	var resp preferencesResponse
	status, err := c.doJSON(ctx, http.MethodGet, path, token, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &workflow.LoadError{Err: fmt.Errorf("unexpected status %d", status)}
	}

	set := &workflow.PreferenceSet{
		LastComment: resp.LastComment,
		HasHistory:  resp.HasHistory,
		Programs:    make([]workflow.PreferenceRecord, 0, len(resp.Programs)),
	}
	if resolved, rerr := workflow.ResolveContact(resp.Contact.Value); rerr == nil {
		set.Contact = resolved
	}
	for _, p := range resp.Programs {
		rec := workflow.PreferenceRecord{
			ProgramID:   p.ID,
			ProgramName: p.Name,
			ProgramType: p.Type,
			OptedIn:     p.OptedIn,
		}
		if p.LastUpdated != nil {
			rec.LastUpdated = *p.LastUpdated
		}
		set.Programs = append(set.Programs, rec)
	}
	return set, nil
}

type contactPayload struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

type updateRecordPayload struct {
	ProgramID string `json:"program_id"`
	OptedIn   bool   `json:"opted_in"`
}

type updatePreferencesRequest struct {
	Contact      *contactPayload       `json:"contact,omitempty"`
	Programs     []updateRecordPayload `json:"programs"`
	Comment      string                `json:"comment,omitempty"`
	GlobalOptOut bool                  `json:"global_opt_out,omitempty"`
}

// UpdatePreferences replaces the contact's consent set wholesale, or issues
// the global opt-out when the flag is set.
func (c *Client) UpdatePreferences(ctx context.Context, identity workflow.Identity, records []workflow.PreferenceRecord, comment string, globalOptOut bool) error {
	token, contact, err := splitIdentity(identity)
	if err != nil {
		return err
	}

	body := updatePreferencesRequest{
		Comment:      comment,
		GlobalOptOut: globalOptOut,
		Programs:     make([]updateRecordPayload, 0, len(records)),
	}
	if contact != nil {
		body.Contact = &contactPayload{Value: contact.Normalized, Type: string(contact.Type)}
	}
	for _, rec := range records {
		body.Programs = append(body.Programs, updateRecordPayload{
			ProgramID: rec.ProgramID,
			OptedIn:   rec.OptedIn,
		})
	}

	status, err := c.doJSON(ctx, http.MethodPut, "/api/v1/preferences", token, body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &workflow.SaveError{Err: fmt.Errorf("unexpected status %d", status)}
	}
	return nil
}

type programPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ListPrograms fetches the program catalog.
func (c *Client) ListPrograms(ctx context.Context) ([]workflow.Program, error) {
	var resp []programPayload
	status, err := c.doJSON(ctx, http.MethodGet, "/api/v1/programs", "", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &workflow.LoadError{Err: fmt.Errorf("unexpected status %d", status)}
	}

	programs := make([]workflow.Program, 0, len(resp))
	for _, p := range resp {
		programs = append(programs, workflow.Program{
			ID:     p.ID,
			Name:   p.Name,
			Type:   p.Type,
			Status: p.Status,
		})
	}
	return programs, nil
}

// splitIdentity enforces the one-of token/contact rule before the request
// is built.
func splitIdentity(identity workflow.Identity) (string, *workflow.Contact, error) {
	hasCred := identity.Credential != nil && identity.Credential.Token != ""
	hasContact := identity.Contact != nil && identity.Contact.Normalized != ""

	switch {
	case hasCred && hasContact:
		return "", nil, &workflow.ValidationError{Message: "exactly one of credential or contact is required"}
	case hasCred:
		return identity.Credential.Token, nil, nil
	case hasContact:
		return "", identity.Contact, nil
	default:
		return "", nil, &workflow.ValidationError{Message: "exactly one of credential or contact is required"}
	}
}

// doJSON issues one request and decodes a JSON response. Error statuses are
// translated into the workflow error taxonomy.
func (c *Client) doJSON(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, translateError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func translateError(resp *http.Response) error {
	var payload errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &payload)

	message := payload.Error
	if message == "" {
		message = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &workflow.CredentialError{Err: fmt.Errorf("%s", message)}
	case http.StatusBadRequest:
		return &workflow.ValidationError{Message: message}
	case http.StatusUnprocessableEntity, http.StatusTooManyRequests:
		return &workflow.VerificationError{Message: message}
	default:
		return fmt.Errorf("%s", message)
	}
}
