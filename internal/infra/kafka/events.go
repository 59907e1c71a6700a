package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
	"github.com/arklim/paid-storage/internal/infra/config"
)

const (
	schemaVersion = "1.0"

	// EventTypeSettlementObserved is the envelope type for processed settlement notifications.
	EventTypeSettlementObserved = "paidstore.settlement.observed"
)

// SettlementPublisher forwards processed settlement events to Kafka.
type SettlementPublisher struct {
	producer *Producer
	topic    string
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewSettlementPublisher constructs a Kafka-backed settlement observer.
// An empty topic falls back to the event type.
func NewSettlementPublisher(producer *Producer, topic string, appCfg config.AppSettings, logger *zap.Logger) *SettlementPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = EventTypeSettlementObserved
	}
	return &SettlementPublisher{producer: producer, topic: topic, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Tenant    string           `json:"tenant,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type settlementObservedPayload struct {
	Tenant     string     `json:"tenant"`
	Period     int64      `json:"period"`
	Applied    bool       `json:"applied"`
	Origin     string     `json:"origin,omitempty"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}

// ObserveSettlement publishes a paidstore.settlement.observed envelope keyed by tenant.
func (p *SettlementPublisher) ObserveSettlement(ctx context.Context, event domain.SettlementObservedEvent) error {
	observedAt := event.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	payload := settlementObservedPayload{
		Tenant:     event.Tenant,
		Period:     int64(event.Period),
		Applied:    event.Applied,
		Origin:     event.Origin,
		ObservedAt: observedAt.UTC(),
	}
	if !event.SettledAt.IsZero() {
		settledAt := event.SettledAt.UTC()
		payload.SettledAt = &settledAt
	}

	return p.publish(ctx, event.EventID, event.Tenant, observedAt, payload)
}

func (p *SettlementPublisher) publish(ctx context.Context, eventID, tenant string, ts time.Time, payload any) error {
	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: EventTypeSettlementObserved,
		Tenant:    tenant,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(p.topic),
		Key:   sarama.StringEncoder(tenant),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.SettlementObserver = (*SettlementPublisher)(nil)
