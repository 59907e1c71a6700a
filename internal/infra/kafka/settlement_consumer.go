package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
	"github.com/arklim/paid-storage/internal/infra/config"
)

const defaultSettlementGroup = "paidstore-settlements"

// SettlementConsumer feeds settlement events from a Kafka topic into the reconciler.
// It is an alternative to the ledger websocket stream when the gateway mirrors events to Kafka.
type SettlementConsumer struct {
	brokers []string
	topic   string
	groupID string
	logger  *zap.Logger
}

type settlementMessage struct {
	EventID   string     `json:"event_id"`
	Tenant    string     `json:"tenant"`
	Period    *int64     `json:"period"`
	SettledAt *time.Time `json:"settled_at"`
}

var _ port.SettlementSubscriber = (*SettlementConsumer)(nil)

// NewSettlementConsumer constructs the consumer from Kafka settings.
func NewSettlementConsumer(cfg config.KafkaSettings, logger *zap.Logger) *SettlementConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = defaultSettlementGroup
	}
	return &SettlementConsumer{
		brokers: cfg.Brokers,
		topic:   cfg.SettlementTopic,
		groupID: groupID,
		logger:  logger,
	}
}

// Name identifies the stream in logs.
func (c *SettlementConsumer) Name() string {
	return "kafka:" + c.topic
}

// Subscribe joins the consumer group and blocks until ctx ends or the group fails.
func (c *SettlementConsumer) Subscribe(ctx context.Context, sink port.SettlementSink) error {
	saramaConfig := newSaramaConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.brokers, c.groupID, saramaConfig)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			c.logger.Warn("settlement consumer error", zap.Error(err))
		}
	}()

	handler := &settlementGroupHandler{consumer: c, sink: sink}
	for {
		if err := group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) && ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("consume settlements: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// HandleMessage decodes one Kafka record and hands it to sink. The record key
// is used as tenant when the payload omits one.
func (c *SettlementConsumer) HandleMessage(ctx context.Context, sink port.SettlementSink, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var payload settlementMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("decode settlement event: %w", err)
	}

	tenant := payload.Tenant
	if strings.TrimSpace(tenant) == "" {
		tenant = string(msg.Key)
	}
	tenant = domain.NormalizeTenant(tenant)
	if tenant == "" {
		return domain.ErrInvalidTenant
	}
	if payload.Period == nil {
		return fmt.Errorf("settlement event missing period")
	}

	event := domain.SettlementEvent{
		EventID: payload.EventID,
		Tenant:  tenant,
		Period:  domain.Period(*payload.Period),
		Origin:  "kafka",
	}
	if payload.SettledAt != nil {
		event.SettledAt = payload.SettledAt.UTC()
	}

	return sink.OnSettlement(ctx, event)
}

type settlementGroupHandler struct {
	consumer *SettlementConsumer
	sink     port.SettlementSink
}

// Setup runs at the start of every group generation. Partitions may have moved,
// so the sink treats it as a reconnect.
func (h *settlementGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.sink.OnConnected(session.Context(), h.consumer.Name())
	return nil
}

func (h *settlementGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *settlementGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.consumer.HandleMessage(session.Context(), h.sink, msg); err != nil {
				h.consumer.logger.Warn("discarding settlement record",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
