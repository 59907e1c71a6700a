package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/infra/config"
)

type fakeAsyncProducer struct {
	sarama.AsyncProducer
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

type recordingSink struct {
	mu        sync.Mutex
	connected []string
	events    []domain.SettlementEvent
}

func (s *recordingSink) OnConnected(_ context.Context, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, source)
}

func (s *recordingSink) OnSettlement(_ context.Context, event domain.SettlementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestSettlementPublisherPublishesEnvelope(t *testing.T) {
	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "billing"}, zaptest.NewLogger(t))
	defer producer.Close()

	publisher := NewSettlementPublisher(producer, "", config.AppSettings{Name: "paid-storage", Env: "test"}, zaptest.NewLogger(t))

	observedAt := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	event := domain.SettlementObservedEvent{
		EventID:    "evt-42",
		Tenant:     "0xabc",
		Period:     12,
		Applied:    true,
		Origin:     "websocket",
		ObservedAt: observedAt,
	}

	if err := publisher.ObserveSettlement(context.Background(), event); err != nil {
		t.Fatalf("ObserveSettlement returned error: %v", err)
	}

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != "billing.paidstore.settlement.observed" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil || string(key) != "0xabc" {
			t.Fatalf("unexpected key %q (%v)", key, err)
		}

		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		if got := envelope["event_type"]; got != EventTypeSettlementObserved {
			t.Fatalf("unexpected event_type: %v", got)
		}
		if got := envelope["event_id"]; got != "evt-42" {
			t.Fatalf("unexpected event_id: %v", got)
		}
		if got := envelope["timestamp"]; got != observedAt.Format(time.RFC3339Nano) {
			t.Fatalf("unexpected timestamp: %v", got)
		}
		payload, ok := envelope["payload"].(map[string]any)
		if !ok {
			t.Fatalf("payload not a map: %T", envelope["payload"])
		}
		if payload["tenant"] != "0xabc" || payload["period"] != float64(12) || payload["applied"] != true {
			t.Fatalf("unexpected payload: %v", payload)
		}
		if _, ok := payload["settled_at"]; ok {
			t.Fatalf("expected settled_at to be omitted")
		}
		metadata, ok := envelope["metadata"].(map[string]any)
		if !ok || metadata["service"] != "paid-storage" {
			t.Fatalf("unexpected metadata: %v", envelope["metadata"])
		}
	case <-time.After(time.Second):
		t.Fatal("expected message to be published")
	}
}

func TestSettlementPublisherHonoursContext(t *testing.T) {
	asyncProducer := newFakeAsyncProducer()
	asyncProducer.input = make(chan *sarama.ProducerMessage)
	producer := newProducer(asyncProducer, config.KafkaSettings{}, zaptest.NewLogger(t))
	defer producer.Close()

	publisher := NewSettlementPublisher(producer, "settlements.observed", config.AppSettings{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.ObserveSettlement(ctx, domain.SettlementObservedEvent{Tenant: "0xabc", Period: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProducerTopicName(t *testing.T) {
	producer := &Producer{cfg: config.KafkaSettings{TopicPrefix: "billing"}}
	if got := producer.TopicName("paidstore.settlement.observed"); got != "billing.paidstore.settlement.observed" {
		t.Fatalf("unexpected topic: %s", got)
	}
	if got := producer.TopicName("billing.already"); got != "billing.already" {
		t.Fatalf("expected prefixed topic to be kept, got %s", got)
	}

	bare := &Producer{}
	if got := bare.TopicName("settlements"); got != "settlements" {
		t.Fatalf("unexpected topic without prefix: %s", got)
	}
}

func TestSettlementConsumerHandleMessage(t *testing.T) {
	consumer := NewSettlementConsumer(config.KafkaSettings{SettlementTopic: "ledger.settlements"}, zaptest.NewLogger(t))
	sink := &recordingSink{}

	msg := &sarama.ConsumerMessage{
		Key:   []byte("0xkey"),
		Value: []byte(`{"event_id":"evt-1","tenant":" 0xABC ","period":7,"settled_at":"2025-10-12T10:00:00Z"}`),
	}
	if err := consumer.HandleMessage(context.Background(), sink, msg); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	event := sink.events[0]
	if event.Tenant != "0xabc" || event.Period != 7 || event.EventID != "evt-1" || event.Origin != "kafka" {
		t.Fatalf("unexpected event %+v", event)
	}
	if !event.SettledAt.Equal(time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected settled_at %s", event.SettledAt)
	}
}

func TestSettlementConsumerFallsBackToRecordKey(t *testing.T) {
	consumer := NewSettlementConsumer(config.KafkaSettings{}, nil)
	sink := &recordingSink{}

	msg := &sarama.ConsumerMessage{Key: []byte("0xKEY"), Value: []byte(`{"period":3}`)}
	if err := consumer.HandleMessage(context.Background(), sink, msg); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Tenant != "0xkey" {
		t.Fatalf("expected key tenant, got %+v", sink.events)
	}
}

func TestSettlementConsumerRejectsInvalidRecords(t *testing.T) {
	consumer := NewSettlementConsumer(config.KafkaSettings{}, nil)
	sink := &recordingSink{}

	if err := consumer.HandleMessage(context.Background(), sink, nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
	if err := consumer.HandleMessage(context.Background(), sink, &sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := consumer.HandleMessage(context.Background(), sink, &sarama.ConsumerMessage{Value: []byte(`{"period":3}`)}); !errors.Is(err, domain.ErrInvalidTenant) {
		t.Fatalf("expected ErrInvalidTenant, got %v", err)
	}
	if err := consumer.HandleMessage(context.Background(), sink, &sarama.ConsumerMessage{Value: []byte(`{"tenant":"0xabc"}`)}); err == nil {
		t.Fatalf("expected missing period error")
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no events, got %d", len(sink.events))
	}
}

func TestSettlementGroupHandlerConsumesAndMarks(t *testing.T) {
	consumer := NewSettlementConsumer(config.KafkaSettings{SettlementTopic: "ledger.settlements"}, zaptest.NewLogger(t))
	sink := &recordingSink{}
	handler := &settlementGroupHandler{consumer: consumer, sink: sink}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := &fakeSession{ctx: ctx}

	if err := handler.Setup(session); err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if len(sink.connected) != 1 || sink.connected[0] != "kafka:ledger.settlements" {
		t.Fatalf("expected connect notification, got %v", sink.connected)
	}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 10, Value: []byte(`{"tenant":"0xabc","period":4}`)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 11, Value: []byte(`garbage`)}
	close(claim.messages)

	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim returned error: %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected one delivered event, got %d", len(sink.events))
	}
	if len(session.marked) != 2 || session.marked[0] != 10 || session.marked[1] != 11 {
		t.Fatalf("expected both offsets marked, got %v", session.marked)
	}
}

func TestLoggingSettlementObserver(t *testing.T) {
	observer := NewLoggingSettlementObserver(zaptest.NewLogger(t))
	if err := observer.ObserveSettlement(context.Background(), domain.SettlementObservedEvent{Tenant: "0xabc", Period: 2}); err != nil {
		t.Fatalf("ObserveSettlement returned error: %v", err)
	}
}
