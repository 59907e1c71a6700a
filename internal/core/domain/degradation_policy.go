package domain

import "strings"

// DegradationPolicyMode enumerates how entitlement checks behave while the ledger is unreachable.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient serves the last cached entitlement value, flagged as degraded.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict refuses to answer without a fresh ledger confirmation.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason captures the context for which a fallback decision is evaluated.
type DegradationReason string

const (
	// DegradationReasonLedgerTimeout indicates the ledger query exceeded its deadline.
	DegradationReasonLedgerTimeout DegradationReason = "ledger_timeout"
	// DegradationReasonLedgerError indicates the ledger rejected or failed the query.
	DegradationReasonLedgerError DegradationReason = "ledger_error"
)

// DegradationPolicy decides whether stale entitlement data may stand in for a live answer.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded answers.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// AllowsFallback determines if a cached value may be served when the supplied reason occurs.
// Only ledger timeouts and ledger errors qualify; strict policies never fall back.
func (p DegradationPolicy) AllowsFallback(reason DegradationReason) bool {
	switch reason {
	case DegradationReasonLedgerTimeout, DegradationReasonLedgerError:
		return !p.IsStrict()
	default:
		return false
	}
}
