package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

const (
	defaultEventName    = "SettlementConfirmed"
	defaultPingInterval = 20 * time.Second
	writeWait           = 5 * time.Second
	maxMessageBytes     = 64 << 10
)

// WebsocketSubscriberOptions configures the ledger event stream client.
type WebsocketSubscriberOptions struct {
	URL          string
	EventName    string
	AuthToken    string
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// WebsocketSubscriber streams settlement notifications from the ledger gateway.
type WebsocketSubscriber struct {
	url          string
	event        string
	token        string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	logger       *zap.Logger
}

type streamMessage struct {
	Type      string     `json:"type"`
	Event     string     `json:"event,omitempty"`
	ID        string     `json:"id,omitempty"`
	Tenant    string     `json:"tenant,omitempty"`
	Period    *int64     `json:"period,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type subscribeMessage struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

var _ port.SettlementSubscriber = (*WebsocketSubscriber)(nil)

// NewWebsocketSubscriber constructs the subscriber.
func NewWebsocketSubscriber(opts WebsocketSubscriberOptions, logger *zap.Logger) *WebsocketSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	event := strings.TrimSpace(opts.EventName)
	if event == "" {
		event = defaultEventName
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	}

	return &WebsocketSubscriber{
		url:          opts.URL,
		event:        event,
		token:        opts.AuthToken,
		pingInterval: ping,
		dialer:       dialer,
		logger:       logger,
	}
}

// Name identifies the stream in logs.
func (s *WebsocketSubscriber) Name() string {
	return "ledger-websocket"
}

// Subscribe dials the gateway, requests the settlement event and pumps messages into
// sink until ctx is cancelled or the connection fails.
func (s *WebsocketSubscriber) Subscribe(ctx context.Context, sink port.SettlementSink) error {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dial ledger stream: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageBytes)
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Event: s.event}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	pongWait := 3 * s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sink.OnConnected(ctx, s.Name())

	done := make(chan struct{})
	defer close(done)
	go s.keepalive(ctx, conn, done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read ledger stream: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg streamMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("discarding malformed ledger message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "event":
			event, err := s.toSettlement(msg)
			if err != nil {
				s.logger.Warn("discarding ledger event", zap.String("event", msg.Event), zap.Error(err))
				continue
			}
			if err := sink.OnSettlement(ctx, event); err != nil {
				s.logger.Warn("settlement sink rejected event", zap.String("tenant", event.Tenant), zap.Error(err))
			}
		case "error":
			return fmt.Errorf("ledger stream error: %s", msg.Message)
		default:
		}
	}
}

func (s *WebsocketSubscriber) toSettlement(msg streamMessage) (domain.SettlementEvent, error) {
	if msg.Event != s.event {
		return domain.SettlementEvent{}, fmt.Errorf("unexpected event %q", msg.Event)
	}
	tenant := domain.NormalizeTenant(msg.Tenant)
	if tenant == "" {
		return domain.SettlementEvent{}, domain.ErrInvalidTenant
	}
	if msg.Period == nil {
		return domain.SettlementEvent{}, errors.New("event missing period")
	}

	event := domain.SettlementEvent{
		EventID: msg.ID,
		Tenant:  tenant,
		Period:  domain.Period(*msg.Period),
		Origin:  "websocket",
	}
	if msg.Timestamp != nil {
		event.SettledAt = msg.Timestamp.UTC()
	}
	return event, nil
}

func (s *WebsocketSubscriber) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug("ledger stream ping failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}
