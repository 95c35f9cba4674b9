package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// PublishVerificationRequested logs verification.requested events.
func (p *StubPublisher) PublishVerificationRequested(_ context.Context, event domain.VerificationRequestedEvent) error {
	p.logger.Info("stub event published",
		zap.String("event_type", topicVerificationRequested),
		zap.String("contact", event.ContactMasked),
		zap.String("contact_type", string(event.ContactType)),
		zap.String("purpose", string(event.Purpose)),
		zap.Time("requested_at", event.RequestedAt),
	)
	return nil
}

// PublishConsentUpdated logs consent.updated events.
func (p *StubPublisher) PublishConsentUpdated(_ context.Context, event domain.ConsentUpdatedEvent) error {
	p.logger.Info("stub event published",
		zap.String("event_type", topicConsentUpdated),
		zap.String("contact", event.ContactMasked),
		zap.String("contact_type", string(event.ContactType)),
		zap.Int("opted_in_count", event.OptedInCount),
		zap.Bool("global_opt_out", event.GlobalOptOut),
		zap.Time("updated_at", event.UpdatedAt),
	)
	return nil
}
