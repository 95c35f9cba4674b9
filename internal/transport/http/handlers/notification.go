package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/logger"
)

// NotificationDispatcher hands verification codes and consent notices to a
// downstream delivery channel. Actual SMS/email transport lives outside this
// service; production deployments plug in a real sender.
type NotificationDispatcher interface {
	SendVerificationCode(ctx context.Context, payload VerificationNotification) error
}

// VerificationNotification captures data needed to deliver a one-time code or,
// for the verbal flow, a consent-change notice with a self-service review link.
type VerificationNotification struct {
	Contact     string
	ContactType domain.ContactType
	Purpose     domain.VerificationPurpose
	ActorName   string
	Code        string
	ReviewURL   string
	Expires     time.Time
}

type noopDispatcher struct{}

func (noopDispatcher) SendVerificationCode(context.Context, VerificationNotification) error {
	return nil
}

// LoggingNotificationDispatcher records dispatch events for observability
// without delivering them. The contact value is masked; the raw code is never
// logged.
type LoggingNotificationDispatcher struct {
	logger *zap.Logger
}

// NewLoggingNotificationDispatcher constructs a dispatcher backed by structured logging.
func NewLoggingNotificationDispatcher(log *zap.Logger) NotificationDispatcher {
	if log == nil {
		return noopDispatcher{}
	}
	return &LoggingNotificationDispatcher{logger: log}
}

func (d *LoggingNotificationDispatcher) SendVerificationCode(_ context.Context, payload VerificationNotification) error {
	if d == nil || d.logger == nil {
		return nil
	}

	fields := []zap.Field{
		zap.String("contact", logger.MaskContact(payload.Contact)),
		zap.String("contact_type", string(payload.ContactType)),
		zap.String("purpose", string(payload.Purpose)),
		zap.Time("expires_at", payload.Expires),
	}

	if payload.ActorName != "" {
		fields = append(fields, zap.String("actor_name", payload.ActorName))
	}
	if payload.ReviewURL != "" {
		fields = append(fields, zap.String("review_url", payload.ReviewURL))
	}

	d.logger.Info("dispatch verification notification", fields...)
	return nil
}
