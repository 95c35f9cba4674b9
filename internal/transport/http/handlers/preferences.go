package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/security"
	"github.com/kenjohansen/optin-manager-sub000/internal/usecase"
)

// PreferenceHandler exposes the consent read and write endpoints.
type PreferenceHandler struct {
	preferences *usecase.PreferenceService
	logger      *zap.Logger
}

// NewPreferenceHandler constructs a PreferenceHandler.
func NewPreferenceHandler(preferences *usecase.PreferenceService, log *zap.Logger) *PreferenceHandler {
	if log == nil {
		log = zap.NewNop()
	}

	return &PreferenceHandler{
		preferences: preferences,
		logger:      log,
	}
}

// RegisterRoutes binds the preference routes.
func (h *PreferenceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.getPreferences)
	r.PUT("", h.updatePreferences)
}

func (h *PreferenceHandler) getPreferences(c *gin.Context) {
	if h.preferences == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "preference service unavailable"))
		return
	}

	identity := usecase.Identity{Token: bearerToken(c)}
	if value := strings.TrimSpace(c.Query("contact")); value != "" {
		identity.Contact = &domain.Contact{
			Value: value,
			Type:  domain.ContactType(strings.ToLower(strings.TrimSpace(c.Query("contact_type")))),
		}
	}

	view, err := h.preferences.Get(c.Request.Context(), identity)
	if err != nil {
		h.respondPreferenceError(c, err, "could not load preferences")
		return
	}

	c.JSON(http.StatusOK, preferencesToResponse(view))
}

func (h *PreferenceHandler) updatePreferences(c *gin.Context) {
	if h.preferences == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "preference service unavailable"))
		return
	}

	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid preferences payload"))
		return
	}

	identity := usecase.Identity{Token: bearerToken(c)}
	if req.Contact != nil {
		identity.Contact = &domain.Contact{
			Value: strings.TrimSpace(req.Contact.Value),
			Type:  domain.ContactType(strings.ToLower(strings.TrimSpace(req.Contact.Type))),
		}
	}

	input := usecase.UpdateInput{
		Identity:     identity,
		Comment:      strings.TrimSpace(req.Comment),
		GlobalOptOut: req.GlobalOptOut,
	}
	for _, rec := range req.Programs {
		input.Records = append(input.Records, usecase.UpdateRecord{
			ProgramID: rec.ProgramID,
			OptedIn:   rec.OptedIn,
		})
	}

	if err := h.preferences.Update(c.Request.Context(), input); err != nil {
		h.respondPreferenceError(c, err, "could not save preferences")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "preferences saved"})
}

// respondPreferenceError keeps credential failures indistinguishable: both
// tampered and expired tokens get the same 401 asking the caller to verify
// again.
func (h *PreferenceHandler) respondPreferenceError(c *gin.Context, err error, fallback string) {
	RespondWithMappedError(c, err, []ErrorCase{
		{Err: security.ErrCredentialInvalid, Status: http.StatusUnauthorized, Message: "session is no longer valid, please verify again"},
		{Err: security.ErrCredentialExpired, Status: http.StatusUnauthorized, Message: "session is no longer valid, please verify again"},
		{Err: usecase.ErrIdentityRequired, Status: http.StatusBadRequest, Message: "provide a credential or a contact, not both"},
		{Err: usecase.ErrUnknownProgram, Status: http.StatusUnprocessableEntity, Message: "one or more programs are not available"},
	}, http.StatusInternalServerError, fallback)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func preferencesToResponse(view *usecase.PreferenceView) PreferencesResponse {
	resp := PreferencesResponse{
		Contact: ContactPayload{
			Value: view.Set.Contact.Value,
			Type:  string(view.Set.Contact.Type),
		},
		Programs:    make([]PreferenceProgramPayload, 0, len(view.Set.Programs)),
		LastComment: view.Set.LastComment,
		HasHistory:  view.HasHistory,
	}

	for _, rec := range view.Set.Programs {
		payload := PreferenceProgramPayload{
			ID:      rec.ProgramID,
			Name:    rec.ProgramName,
			Type:    string(rec.ProgramType),
			OptedIn: rec.OptedIn,
		}
		if !rec.LastUpdated.IsZero() {
			updated := rec.LastUpdated
			payload.LastUpdated = &updated
		}
		resp.Programs = append(resp.Programs, payload)
	}

	return resp
}
