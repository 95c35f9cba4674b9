package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// ContactPayload carries a contact identifier over the wire.
type ContactPayload struct {
	Value string `json:"value" binding:"required"`
	Type  string `json:"type" binding:"required"`
}

// SendCodeRequest defines the payload for the code-request endpoint.
type SendCodeRequest struct {
	Contact     string `json:"contact" binding:"required"`
	ContactType string `json:"contact_type" binding:"required"`
	Purpose     string `json:"purpose" binding:"required"`
	ActorName   string `json:"actor_name"`
}

// SendCodeResponse acknowledges a code request. DevCode is populated only in
// non-production environments.
type SendCodeResponse struct {
	Accepted  bool      `json:"accepted"`
	ExpiresAt time.Time `json:"expires_at"`
	DevCode   string    `json:"dev_code,omitempty"`
}

// VerifyCodeRequest defines the payload for the code-verification endpoint.
type VerifyCodeRequest struct {
	Contact     string `json:"contact" binding:"required"`
	ContactType string `json:"contact_type" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

// VerifyCodeResponse returns the bearer credential issued for a verified contact.
type VerifyCodeResponse struct {
	Token string `json:"token"`
}

// PreferenceProgramPayload is one program row in a preferences response.
type PreferenceProgramPayload struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	OptedIn     bool       `json:"opted_in"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// PreferencesResponse is the full consent view for one contact.
type PreferencesResponse struct {
	Contact     ContactPayload             `json:"contact"`
	Programs    []PreferenceProgramPayload `json:"programs"`
	LastComment string                     `json:"last_comment,omitempty"`
	HasHistory  bool                       `json:"has_history"`
}

// UpdatePreferenceRecord is one submitted consent decision.
type UpdatePreferenceRecord struct {
	ProgramID string `json:"program_id" binding:"required"`
	OptedIn   bool   `json:"opted_in"`
}

// UpdatePreferencesRequest replaces a contact's consent set wholesale.
// Contact is used only when no bearer credential accompanies the request.
type UpdatePreferencesRequest struct {
	Contact      *ContactPayload          `json:"contact,omitempty"`
	Programs     []UpdatePreferenceRecord `json:"programs"`
	Comment      string                   `json:"comment"`
	GlobalOptOut bool                     `json:"global_opt_out"`
}

// ProgramPayload is one catalog entry.
type ProgramPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports dependency readiness.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
