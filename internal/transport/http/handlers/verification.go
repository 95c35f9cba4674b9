package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/logger"
	"github.com/kenjohansen/optin-manager-sub000/internal/usecase"
)

// VerificationHandler exposes the one-time code endpoints.
type VerificationHandler struct {
	verification *usecase.VerificationService
	dispatcher   NotificationDispatcher
	logger       *zap.Logger
	reviewURL    string
	isDev        bool
}

// VerificationHandlerOption configures optional VerificationHandler dependencies.
type VerificationHandlerOption func(*VerificationHandler)

// WithNotificationDispatcher injects the dispatcher used to deliver codes.
func WithNotificationDispatcher(dispatcher NotificationDispatcher) VerificationHandlerOption {
	return func(h *VerificationHandler) {
		if dispatcher == nil {
			dispatcher = noopDispatcher{}
		}
		h.dispatcher = dispatcher
	}
}

// WithDevMode toggles development-only behaviour (echoing the issued code).
func WithDevMode(isDev bool) VerificationHandlerOption {
	return func(h *VerificationHandler) {
		h.isDev = isDev
	}
}

// WithReviewURL sets the self-service link included in verbal-consent notices.
func WithReviewURL(url string) VerificationHandlerOption {
	return func(h *VerificationHandler) {
		h.reviewURL = strings.TrimSpace(url)
	}
}

// NewVerificationHandler constructs a VerificationHandler.
func NewVerificationHandler(verification *usecase.VerificationService, log *zap.Logger, opts ...VerificationHandlerOption) *VerificationHandler {
	if log == nil {
		log = zap.NewNop()
	}

	handler := &VerificationHandler{
		verification: verification,
		dispatcher:   noopDispatcher{},
		logger:       log,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}

	return handler
}

// RegisterRoutes binds verification routes, applying optional middleware ahead of the send handler.
func (h *VerificationHandler) RegisterRoutes(r *gin.RouterGroup, sendMiddlewares ...gin.HandlerFunc) {
	if len(sendMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, sendMiddlewares...)
		chain = append(chain, h.sendCode)
		r.POST("/send", chain...)
	} else {
		r.POST("/send", h.sendCode)
	}

	r.POST("/verify", h.verifyCode)
}

func (h *VerificationHandler) sendCode(c *gin.Context) {
	if h.verification == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "verification service unavailable"))
		return
	}

	var req SendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid code request payload"))
		return
	}

	contactType := domain.ContactType(strings.ToLower(strings.TrimSpace(req.ContactType)))
	purpose := domain.VerificationPurpose(strings.ToLower(strings.TrimSpace(req.Purpose)))
	if !contactType.Valid() || !purpose.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "enter a valid email or phone"))
		return
	}

	input := usecase.RequestCodeInput{
		Contact:   domain.Contact{Value: strings.TrimSpace(req.Contact), Type: contactType},
		Purpose:   purpose,
		ActorName: strings.TrimSpace(req.ActorName),
	}

	result, err := h.verification.RequestCode(c.Request.Context(), input)
	if err != nil {
		var rateErr *usecase.RateLimitExceededError
		if errors.As(err, &rateErr) {
			c.Header("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "too many code requests, try again later"))
			return
		}

		h.logger.Error("request code failed",
			zap.String("contact", logger.MaskContact(input.Contact.Value)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "could not send verification code"))
		return
	}

	notification := VerificationNotification{
		Contact:     result.Contact.Value,
		ContactType: result.Contact.Type,
		Purpose:     result.Purpose,
		ActorName:   result.ActorName,
		Code:        result.Code,
		ReviewURL:   h.reviewURL,
		Expires:     result.ExpiresAt,
	}
	if err := h.dispatcher.SendVerificationCode(c.Request.Context(), notification); err != nil {
		h.logger.Warn("verification notification dispatch failed",
			zap.String("contact", logger.MaskContact(result.Contact.Value)),
			zap.Error(err),
		)
	}

	resp := SendCodeResponse{
		Accepted:  true,
		ExpiresAt: result.ExpiresAt,
	}
	if h.isDev {
		resp.DevCode = result.Code
	}

	c.JSON(http.StatusAccepted, resp)
}

func (h *VerificationHandler) verifyCode(c *gin.Context) {
	if h.verification == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "verification service unavailable"))
		return
	}

	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	contactType := domain.ContactType(strings.ToLower(strings.TrimSpace(req.ContactType)))
	if !contactType.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "enter a valid email or phone"))
		return
	}

	contact := domain.Contact{Value: strings.TrimSpace(req.Contact), Type: contactType}
	token, err := h.verification.VerifyCode(c.Request.Context(), contact, req.Code)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrCodeInvalid, Status: http.StatusUnprocessableEntity, Message: "verification code invalid"},
			{Err: usecase.ErrCodeExpired, Status: http.StatusUnprocessableEntity, Message: "verification code expired"},
			{Err: usecase.ErrTooManyAttempts, Status: http.StatusTooManyRequests, Message: "too many attempts, request a new code"},
		}, http.StatusInternalServerError, "could not verify code")
		return
	}

	c.JSON(http.StatusOK, VerifyCodeResponse{Token: token})
}
