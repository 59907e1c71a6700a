package domain

import "errors"

var (
	// ErrUnauthenticated indicates the caller could not be mapped to a tenant.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPaymentRequired indicates the tenant has not settled the current period.
	ErrPaymentRequired = errors.New("payment required")
	// ErrQuotaExceeded indicates a write would push the tenant past its storage limit.
	ErrQuotaExceeded = errors.New("size exceeded")
	// ErrLedgerUnavailable indicates entitlement could not be determined from the ledger.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrInvalidKey indicates an empty or oversized storage key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidTenant indicates an empty or malformed tenant identifier.
	ErrInvalidTenant = errors.New("invalid tenant")
)
