package port

import (
	"context"
	"time"

	"github.com/arklim/paid-storage/internal/core/domain"
)

// SettlementMirror shares confirmed settlements between replicas so a cold cache
// can skip the ledger for periods another instance already saw settled.
type SettlementMirror interface {
	MarkSettled(ctx context.Context, tenant string, period domain.Period, observedAt time.Time) error
	IsSettled(ctx context.Context, tenant string, period domain.Period) (bool, time.Time, error)
}
