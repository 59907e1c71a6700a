package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

// Gate operations reported to metrics.
const (
	GateOperationRead         = "read"
	GateOperationWrite        = "write"
	GateOperationUsage        = "usage"
	GateOperationSubscription = "subscription"
)

// Gate outcomes reported to metrics.
const (
	GateOutcomeAllowed           = "allowed"
	GateOutcomeUnauthenticated   = "unauthenticated"
	GateOutcomePaymentRequired   = "payment_required"
	GateOutcomeQuotaExceeded     = "quota_exceeded"
	GateOutcomeLedgerUnavailable = "ledger_unavailable"
	GateOutcomeInvalid           = "invalid"
	GateOutcomeError             = "error"
)

// EntitlementChecker is the subset of the resolver the gate depends on.
type EntitlementChecker interface {
	IsEntitled(ctx context.Context, tenant string, period domain.Period) (domain.EntitlementDecision, error)
}

// GateMetrics captures telemetry hooks for gate decisions.
type GateMetrics interface {
	IncDecision(operation, outcome string)
	IncRejectedWrite()
}

// ReadResult is the outcome of an entitled read.
type ReadResult struct {
	Value       []byte
	Found       bool
	Entitlement domain.EntitlementDecision
}

// WriteResult is the outcome of an entitled write.
type WriteResult struct {
	Account     domain.QuotaAccount
	Entitlement domain.EntitlementDecision
}

// UsageResult reports a tenant's storage consumption.
type UsageResult struct {
	Account     domain.QuotaAccount
	Entitlement domain.EntitlementDecision
}

// SubscriptionStatus reports settlement state for the current and next period.
type SubscriptionStatus struct {
	Tenant        string
	Current       domain.EntitlementDecision
	Next          domain.EntitlementDecision
	CurrentStart  time.Time
	NextStart     time.Time
	PeriodLength  time.Duration
	NextAvailable bool
}

// AccessGate authorises tenant operations against the current billing period
// before delegating to the tenant store.
type AccessGate struct {
	entitlements EntitlementChecker
	store        port.TenantStore
	clock        domain.PeriodClock
	maxKeyBytes  int
	logger       *zap.Logger
	now          func() time.Time
	metrics      GateMetrics
}

// NewAccessGate constructs the gate. maxKeyBytes <= 0 disables the key length check.
func NewAccessGate(entitlements EntitlementChecker, store port.TenantStore, clock domain.PeriodClock, maxKeyBytes int) *AccessGate {
	return &AccessGate{
		entitlements: entitlements,
		store:        store,
		clock:        clock,
		maxKeyBytes:  maxKeyBytes,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
}

// WithLogger attaches a structured logger.
func (g *AccessGate) WithLogger(logger *zap.Logger) *AccessGate {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// WithNow overrides the clock, primarily for deterministic testing.
func (g *AccessGate) WithNow(now func() time.Time) *AccessGate {
	if now != nil {
		g.now = now
	}
	return g
}

// WithMetrics wires gate decision counters.
func (g *AccessGate) WithMetrics(metrics GateMetrics) *AccessGate {
	if metrics != nil {
		g.metrics = metrics
	}
	return g
}

// Read returns the value stored under key if the tenant has settled the current period.
// An absent key is not an error.
func (g *AccessGate) Read(ctx context.Context, tenant, key string) (ReadResult, error) {
	decision, err := g.authorize(ctx, tenant)
	if err != nil {
		g.record(GateOperationRead, err)
		return ReadResult{Entitlement: decision}, err
	}
	if err := g.validateKey(key); err != nil {
		g.record(GateOperationRead, err)
		return ReadResult{Entitlement: decision}, err
	}

	value, found, err := g.store.Get(ctx, decision.Tenant, key)
	if err != nil {
		g.record(GateOperationRead, err)
		return ReadResult{Entitlement: decision}, fmt.Errorf("read %q: %w", key, err)
	}

	g.record(GateOperationRead, nil)
	return ReadResult{Value: value, Found: found, Entitlement: decision}, nil
}

// Write stores value under key if the tenant has settled the current period and the
// write fits within the quota.
func (g *AccessGate) Write(ctx context.Context, tenant, key string, value []byte) (WriteResult, error) {
	decision, err := g.authorize(ctx, tenant)
	if err != nil {
		g.record(GateOperationWrite, err)
		return WriteResult{Entitlement: decision}, err
	}
	if err := g.validateKey(key); err != nil {
		g.record(GateOperationWrite, err)
		return WriteResult{Entitlement: decision}, err
	}

	account, err := g.store.Put(ctx, decision.Tenant, key, value)
	if err != nil {
		g.record(GateOperationWrite, err)
		if errors.Is(err, domain.ErrQuotaExceeded) {
			if g.metrics != nil {
				g.metrics.IncRejectedWrite()
			}
			g.logger.Info("write rejected by quota",
				zap.String("tenant", decision.Tenant),
				zap.Int("key_bytes", len(key)),
				zap.Int("value_bytes", len(value)),
				zap.Int64("used_bytes", account.UsedBytes),
			)
			return WriteResult{Account: account, Entitlement: decision}, err
		}
		return WriteResult{Entitlement: decision}, fmt.Errorf("write %q: %w", key, err)
	}

	g.record(GateOperationWrite, nil)
	return WriteResult{Account: account, Entitlement: decision}, nil
}

// Usage returns the tenant's quota account if the current period is settled.
func (g *AccessGate) Usage(ctx context.Context, tenant string) (UsageResult, error) {
	decision, err := g.authorize(ctx, tenant)
	if err != nil {
		g.record(GateOperationUsage, err)
		return UsageResult{Entitlement: decision}, err
	}

	account, err := g.store.Usage(ctx, decision.Tenant)
	if err != nil {
		g.record(GateOperationUsage, err)
		return UsageResult{Entitlement: decision}, fmt.Errorf("usage: %w", err)
	}

	g.record(GateOperationUsage, nil)
	return UsageResult{Account: account, Entitlement: decision}, nil
}

// Subscription reports settlement for the current and next period. It requires an
// authenticated tenant but not a settled one. A ledger failure for the next period
// is tolerated; one for the current period is returned.
func (g *AccessGate) Subscription(ctx context.Context, tenant string) (SubscriptionStatus, error) {
	tenant = domain.NormalizeTenant(tenant)
	if tenant == "" {
		g.record(GateOperationSubscription, domain.ErrUnauthenticated)
		return SubscriptionStatus{}, domain.ErrUnauthenticated
	}

	current := g.clock.PeriodAt(g.now().UTC())
	status := SubscriptionStatus{
		Tenant:       tenant,
		CurrentStart: g.clock.Start(current),
		NextStart:    g.clock.Start(current.Next()),
		PeriodLength: g.clock.Length(),
	}

	decision, err := g.entitlements.IsEntitled(ctx, tenant, current)
	if err != nil {
		g.record(GateOperationSubscription, err)
		return status, err
	}
	status.Current = decision

	next, err := g.entitlements.IsEntitled(ctx, tenant, current.Next())
	if err != nil {
		g.logger.Warn("next period entitlement unavailable", zap.String("tenant", tenant), zap.Error(err))
		next = domain.EntitlementDecision{Tenant: tenant, Period: current.Next()}
	} else {
		status.NextAvailable = true
	}
	status.Next = next

	g.record(GateOperationSubscription, nil)
	return status, nil
}

func (g *AccessGate) authorize(ctx context.Context, tenant string) (domain.EntitlementDecision, error) {
	tenant = domain.NormalizeTenant(tenant)
	if tenant == "" {
		return domain.EntitlementDecision{}, domain.ErrUnauthenticated
	}

	period := g.clock.PeriodAt(g.now().UTC())
	decision, err := g.entitlements.IsEntitled(ctx, tenant, period)
	if err != nil {
		return domain.EntitlementDecision{Tenant: tenant, Period: period}, err
	}
	if !decision.Entitled {
		return decision, domain.ErrPaymentRequired
	}
	return decision, nil
}

func (g *AccessGate) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", domain.ErrInvalidKey)
	}
	if g.maxKeyBytes > 0 && len(key) > g.maxKeyBytes {
		return fmt.Errorf("%w: key exceeds %d bytes", domain.ErrInvalidKey, g.maxKeyBytes)
	}
	return nil
}

func (g *AccessGate) record(operation string, err error) {
	if g.metrics == nil {
		return
	}
	g.metrics.IncDecision(operation, gateOutcome(err))
}

func gateOutcome(err error) string {
	switch {
	case err == nil:
		return GateOutcomeAllowed
	case errors.Is(err, domain.ErrUnauthenticated):
		return GateOutcomeUnauthenticated
	case errors.Is(err, domain.ErrPaymentRequired):
		return GateOutcomePaymentRequired
	case errors.Is(err, domain.ErrQuotaExceeded):
		return GateOutcomeQuotaExceeded
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return GateOutcomeLedgerUnavailable
	case errors.Is(err, domain.ErrInvalidKey), errors.Is(err, domain.ErrInvalidTenant):
		return GateOutcomeInvalid
	default:
		return GateOutcomeError
	}
}
