package domain

import "time"

// SettlementObservedEvent represents the payload for paidstore.settlement.observed messages.
type SettlementObservedEvent struct {
	EventID    string
	Tenant     string
	Period     Period
	Applied    bool
	Origin     string
	SettledAt  time.Time
	ObservedAt time.Time
}
