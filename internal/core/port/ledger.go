package port

import (
	"context"

	"github.com/arklim/paid-storage/internal/core/domain"
)

// LedgerQuerier answers point-in-time entitlement questions against the ledger.
// Implementations must report transport failures as domain.ErrLedgerUnavailable
// rather than as an unsettled period.
type LedgerQuerier interface {
	QueryEntitlement(ctx context.Context, tenant string, period domain.Period) (bool, error)
}

// SettlementSink receives the output of a settlement subscription.
type SettlementSink interface {
	// OnConnected is invoked every time the subscription is (re)established.
	OnConnected(ctx context.Context, source string)
	// OnSettlement is invoked once per delivered event; duplicates are possible.
	OnSettlement(ctx context.Context, event domain.SettlementEvent) error
}

// SettlementSubscriber streams settlement events into a sink. Subscribe blocks
// until ctx is cancelled or the underlying stream breaks.
type SettlementSubscriber interface {
	Name() string
	Subscribe(ctx context.Context, sink SettlementSink) error
}
