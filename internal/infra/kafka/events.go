package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/config"
)

const (
	topicVerificationRequested = "verification.requested"
	topicConsentUpdated        = "consent.updated"
)

// EventPublisher publishes consent lifecycle events to Kafka. Contact values
// in payloads are already masked by the caller.
type EventPublisher struct {
	producer *Producer
	prefix   string
	logger   *zap.Logger
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, cfg config.KafkaSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventPublisher{
		producer: producer,
		prefix:   strings.TrimSpace(cfg.TopicPrefix),
		logger:   logger,
	}
}

// PublishVerificationRequested emits an event for each issued one-time code.
func (p *EventPublisher) PublishVerificationRequested(_ context.Context, event domain.VerificationRequestedEvent) error {
	return p.publish(p.topic(topicVerificationRequested), event.ContactMasked, event)
}

// PublishConsentUpdated emits an event after a preference set is persisted.
func (p *EventPublisher) PublishConsentUpdated(_ context.Context, event domain.ConsentUpdatedEvent) error {
	return p.publish(p.topic(topicConsentUpdated), event.ContactMasked, event)
}

func (p *EventPublisher) publish(topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Producer().Input() <- msg:
		return nil
	default:
		p.logger.Warn("kafka input buffer full, dropping event", zap.String("topic", topic))
		return fmt.Errorf("kafka input buffer full for topic %s", topic)
	}
}

func (p *EventPublisher) topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}
