package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

// LoggingSettlementObserver logs settlement events instead of sending them to Kafka.
// Used when no brokers are configured.
type LoggingSettlementObserver struct {
	logger *zap.Logger
}

// NewLoggingSettlementObserver constructs the fallback observer.
func NewLoggingSettlementObserver(logger *zap.Logger) *LoggingSettlementObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingSettlementObserver{logger: logger}
}

// ObserveSettlement logs the event.
func (o *LoggingSettlementObserver) ObserveSettlement(_ context.Context, event domain.SettlementObservedEvent) error {
	o.logger.Info("Settlement observed",
		zap.String("event_type", EventTypeSettlementObserved),
		zap.String("event_id", event.EventID),
		zap.String("tenant", event.Tenant),
		zap.Int64("period", int64(event.Period)),
		zap.Bool("applied", event.Applied),
		zap.String("origin", event.Origin),
		zap.Time("observed_at", event.ObservedAt.UTC()),
	)
	return nil
}

var _ port.SettlementObserver = (*LoggingSettlementObserver)(nil)
