package domain

import "time"

// EntitlementSource records how an entitlement value was learned.
type EntitlementSource string

const (
	// EntitlementSourceLedgerQuery marks values obtained from a live ledger query.
	EntitlementSourceLedgerQuery EntitlementSource = "ledger_query"
	// EntitlementSourceEvent marks values applied from a settlement event.
	EntitlementSourceEvent EntitlementSource = "event"
	// EntitlementSourceMirror marks values restored from the shared settlement mirror.
	EntitlementSourceMirror EntitlementSource = "mirror"
)

// EntitlementRecord is the cached settlement state of one (tenant, period) pair.
type EntitlementRecord struct {
	Tenant     string
	Period     Period
	Settled    bool
	ObservedAt time.Time
	Source     EntitlementSource
}

// Age reports how long ago the record was observed relative to now.
func (r EntitlementRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.ObservedAt)
}

// EntitlementDecision is the answer returned to callers asking whether a tenant may use the store.
type EntitlementDecision struct {
	Tenant     string
	Period     Period
	Entitled   bool
	Degraded   bool
	Source     EntitlementSource
	ObservedAt time.Time
}

// SettlementEvent is a ledger notification that a tenant settled a period.
// Delivery is at-least-once and unordered.
type SettlementEvent struct {
	EventID   string
	Tenant    string
	Period    Period
	SettledAt time.Time
	Origin    string
}
