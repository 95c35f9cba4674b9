package port

import (
	"context"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
)

// EventPublisher fans consent lifecycle events out to downstream consumers.
type EventPublisher interface {
	PublishVerificationRequested(ctx context.Context, event domain.VerificationRequestedEvent) error
	PublishConsentUpdated(ctx context.Context, event domain.ConsentUpdatedEvent) error
}
