package port

import (
	"context"

	"github.com/arklim/paid-storage/internal/core/domain"
)

// SettlementObserver is notified after each settlement event is processed.
type SettlementObserver interface {
	ObserveSettlement(ctx context.Context, event domain.SettlementObservedEvent) error
}
