package kafka

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/config"
)

func TestEventPublisher_TopicNaming(t *testing.T) {
	cases := []struct {
		prefix string
		suffix string
		want   string
	}{
		{"optin", topicConsentUpdated, "optin.consent.updated"},
		{"", topicConsentUpdated, "consent.updated"},
		{"optin", topicVerificationRequested, "optin.verification.requested"},
	}

	for _, tc := range cases {
		p := NewEventPublisher(nil, config.KafkaSettings{TopicPrefix: tc.prefix}, nil)
		if got := p.topic(tc.suffix); got != tc.want {
			t.Errorf("topic(%q) with prefix %q = %q, want %q", tc.suffix, tc.prefix, got, tc.want)
		}
	}
}

func TestStubPublisher_AcceptsEvents(t *testing.T) {
	p := NewStubPublisher(zaptest.NewLogger(t))

	err := p.PublishVerificationRequested(context.Background(), domain.VerificationRequestedEvent{
		ContactMasked: "u***@example.com",
		ContactType:   domain.ContactTypeEmail,
		Purpose:       domain.PurposeSelfService,
		RequestedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("PublishVerificationRequested: %v", err)
	}

	err = p.PublishConsentUpdated(context.Background(), domain.ConsentUpdatedEvent{
		ContactMasked: "+*********67",
		ContactType:   domain.ContactTypePhone,
		GlobalOptOut:  true,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("PublishConsentUpdated: %v", err)
	}
}
