package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

const (
	ledgerResultSettled   = "settled"
	ledgerResultUnsettled = "unsettled"
	ledgerResultTimeout   = "timeout"
	ledgerResultError     = "error"
)

// EntitlementMetrics captures telemetry hooks for entitlement resolution.
type EntitlementMetrics interface {
	IncCacheHit()
	IncCacheMiss()
	ObserveLedgerQuery(result string, duration time.Duration)
	IncDegraded()
	IncSettlementEvent(applied bool)
}

// EntitlementOptions configures the resolver.
type EntitlementOptions struct {
	// FreshnessWindow bounds how long an unsettled answer is trusted without re-asking the ledger.
	FreshnessWindow time.Duration
	QueryTimeout    time.Duration
	Policy          domain.DegradationPolicy
}

// EntitlementResolver answers whether a tenant has settled a period, combining a
// local cache, settlement events and live ledger queries.
type EntitlementResolver struct {
	ledger       port.LedgerQuerier
	mirror       port.SettlementMirror
	cache        *entitlementCache
	group        singleflight.Group
	freshness    time.Duration
	queryTimeout time.Duration
	policy       domain.DegradationPolicy
	logger       *zap.Logger
	now          func() time.Time
	metrics      EntitlementMetrics
}

// NewEntitlementResolver constructs a resolver backed by the supplied ledger.
func NewEntitlementResolver(ledger port.LedgerQuerier, opts EntitlementOptions) *EntitlementResolver {
	r := &EntitlementResolver{
		ledger:       ledger,
		cache:        newEntitlementCache(),
		freshness:    opts.FreshnessWindow,
		queryTimeout: opts.QueryTimeout,
		policy:       opts.Policy,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	if r.freshness <= 0 {
		r.freshness = 30 * time.Second
	}
	if r.queryTimeout <= 0 {
		r.queryTimeout = 3 * time.Second
	}
	return r
}

// WithMirror enables the shared settlement mirror consulted on cold misses.
func (r *EntitlementResolver) WithMirror(mirror port.SettlementMirror) *EntitlementResolver {
	if mirror != nil {
		r.mirror = mirror
	}
	return r
}

// WithLogger attaches a structured logger to the resolver.
func (r *EntitlementResolver) WithLogger(logger *zap.Logger) *EntitlementResolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithNow overrides the clock, primarily for deterministic testing.
func (r *EntitlementResolver) WithNow(now func() time.Time) *EntitlementResolver {
	if now != nil {
		r.now = now
	}
	return r
}

// WithMetrics wires telemetry observers for entitlement resolution.
func (r *EntitlementResolver) WithMetrics(metrics EntitlementMetrics) *EntitlementResolver {
	if metrics != nil {
		r.metrics = metrics
	}
	return r
}

// FreshnessWindow returns the configured freshness window.
func (r *EntitlementResolver) FreshnessWindow() time.Duration {
	return r.freshness
}

// IsEntitled reports whether tenant has settled period.
//
// A settled answer is final. An unsettled answer younger than the freshness window
// is served from cache; anything else goes to the ledger. When the ledger cannot be
// reached the last cached value is returned flagged as degraded, or
// domain.ErrLedgerUnavailable when nothing is cached or the policy is strict.
func (r *EntitlementResolver) IsEntitled(ctx context.Context, tenant string, period domain.Period) (domain.EntitlementDecision, error) {
	tenant = domain.NormalizeTenant(tenant)
	if tenant == "" {
		return domain.EntitlementDecision{}, domain.ErrInvalidTenant
	}

	entry, cached := r.cache.get(tenant, period)
	if cached {
		if entry.record.Settled {
			r.incCacheHit()
			return decisionFromRecord(entry.record), nil
		}
		if !entry.invalidated && entry.record.Age(r.now().UTC()) < r.freshness {
			r.incCacheHit()
			return decisionFromRecord(entry.record), nil
		}
	}
	r.incCacheMiss()

	if !cached {
		if record, ok := r.fromMirror(ctx, tenant, period); ok {
			return decisionFromRecord(record), nil
		}
	}

	record, err := r.refresh(ctx, tenant, period)
	if err != nil {
		return r.degrade(tenant, period, err)
	}
	return decisionFromRecord(record), nil
}

// Refresh forces a live ledger query for the pair regardless of cache state.
func (r *EntitlementResolver) Refresh(ctx context.Context, tenant string, period domain.Period) (domain.EntitlementDecision, error) {
	tenant = domain.NormalizeTenant(tenant)
	if tenant == "" {
		return domain.EntitlementDecision{}, domain.ErrInvalidTenant
	}
	record, err := r.refresh(ctx, tenant, period)
	if err != nil {
		return domain.EntitlementDecision{}, err
	}
	return decisionFromRecord(record), nil
}

// ApplySettlement records a settlement event. It reports whether the event changed
// the cache; duplicates and already-settled pairs are no-ops.
func (r *EntitlementResolver) ApplySettlement(ctx context.Context, event domain.SettlementEvent) bool {
	tenant := domain.NormalizeTenant(event.Tenant)
	if tenant == "" {
		return false
	}

	observedAt := r.now().UTC()
	applied := r.cache.markSettled(tenant, event.Period, observedAt, domain.EntitlementSourceEvent)
	if r.metrics != nil {
		r.metrics.IncSettlementEvent(applied)
	}
	if applied {
		r.logger.Debug("settlement applied",
			zap.String("tenant", tenant),
			zap.Int64("period", int64(event.Period)),
			zap.String("event_id", event.EventID),
			zap.String("origin", event.Origin),
		)
		r.mirrorSettled(ctx, tenant, event.Period, observedAt)
	}
	return applied
}

// InvalidateFreshness forces every cached unsettled pair back to the ledger on next use.
func (r *EntitlementResolver) InvalidateFreshness() int {
	return r.cache.invalidateUnsettled()
}

// EvictBefore drops cached pairs for periods older than floor.
func (r *EntitlementResolver) EvictBefore(floor domain.Period) int {
	return r.cache.evictBefore(floor)
}

// StaleUnsettled lists unsettled pairs in the given periods that are due for a ledger query.
func (r *EntitlementResolver) StaleUnsettled(periods ...domain.Period) []domain.EntitlementRecord {
	watched := make(map[domain.Period]struct{}, len(periods))
	for _, p := range periods {
		watched[p] = struct{}{}
	}
	return r.cache.staleUnsettled(r.now().UTC(), r.freshness, watched)
}

// CachedEntries returns the number of pairs currently cached.
func (r *EntitlementResolver) CachedEntries() int {
	return r.cache.len()
}

func (r *EntitlementResolver) refresh(ctx context.Context, tenant string, period domain.Period) (domain.EntitlementRecord, error) {
	if r.ledger == nil {
		return domain.EntitlementRecord{}, fmt.Errorf("%w: no ledger configured", domain.ErrLedgerUnavailable)
	}

	key := tenant + "|" + strconv.FormatInt(int64(period), 10)
	value, err, _ := r.group.Do(key, func() (any, error) {
		queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.queryTimeout)
		defer cancel()

		start := time.Now()
		settled, err := r.ledger.QueryEntitlement(queryCtx, tenant, period)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				r.observeLedgerQuery(ledgerResultTimeout, time.Since(start))
			} else {
				r.observeLedgerQuery(ledgerResultError, time.Since(start))
			}
			if !errors.Is(err, domain.ErrLedgerUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
			}
			return nil, err
		}

		result := ledgerResultUnsettled
		if settled {
			result = ledgerResultSettled
		}
		r.observeLedgerQuery(result, time.Since(start))

		observedAt := r.now().UTC()
		record := r.cache.storeQueried(domain.EntitlementRecord{
			Tenant:     tenant,
			Period:     period,
			Settled:    settled,
			ObservedAt: observedAt,
			Source:     domain.EntitlementSourceLedgerQuery,
		})
		if settled {
			r.mirrorSettled(ctx, tenant, period, observedAt)
		}
		return record, nil
	})
	if err != nil {
		return domain.EntitlementRecord{}, err
	}
	return value.(domain.EntitlementRecord), nil
}

func (r *EntitlementResolver) degrade(tenant string, period domain.Period, cause error) (domain.EntitlementDecision, error) {
	reason := domain.DegradationReasonLedgerError
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = domain.DegradationReasonLedgerTimeout
	}

	entry, cached := r.cache.get(tenant, period)
	if !cached {
		r.logger.Warn("ledger unavailable and no cached entitlement",
			zap.String("tenant", tenant),
			zap.Int64("period", int64(period)),
			zap.String("reason", string(reason)),
			zap.Error(cause),
		)
		return domain.EntitlementDecision{}, cause
	}

	// a settlement event may have landed while the query was failing
	if entry.record.Settled {
		return decisionFromRecord(entry.record), nil
	}

	if !r.policy.AllowsFallback(reason) {
		return domain.EntitlementDecision{}, cause
	}

	if r.metrics != nil {
		r.metrics.IncDegraded()
	}
	r.logger.Warn("serving stale entitlement",
		zap.String("tenant", tenant),
		zap.Int64("period", int64(period)),
		zap.String("reason", string(reason)),
		zap.Time("observed_at", entry.record.ObservedAt),
		zap.Error(cause),
	)

	decision := decisionFromRecord(entry.record)
	decision.Degraded = true
	return decision, nil
}

func (r *EntitlementResolver) fromMirror(ctx context.Context, tenant string, period domain.Period) (domain.EntitlementRecord, bool) {
	if r.mirror == nil {
		return domain.EntitlementRecord{}, false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	settled, observedAt, err := r.mirror.IsSettled(lookupCtx, tenant, period)
	if err != nil {
		r.logger.Warn("settlement mirror lookup failed", zap.String("tenant", tenant), zap.Int64("period", int64(period)), zap.Error(err))
		return domain.EntitlementRecord{}, false
	}
	if !settled {
		return domain.EntitlementRecord{}, false
	}

	if observedAt.IsZero() {
		observedAt = r.now().UTC()
	}
	r.cache.markSettled(tenant, period, observedAt, domain.EntitlementSourceMirror)
	entry, _ := r.cache.get(tenant, period)
	return entry.record, true
}

func (r *EntitlementResolver) mirrorSettled(ctx context.Context, tenant string, period domain.Period, observedAt time.Time) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.MarkSettled(ctx, tenant, period, observedAt); err != nil {
		r.logger.Warn("failed to mirror settlement", zap.String("tenant", tenant), zap.Int64("period", int64(period)), zap.Error(err))
	}
}

func (r *EntitlementResolver) incCacheHit() {
	if r.metrics != nil {
		r.metrics.IncCacheHit()
	}
}

func (r *EntitlementResolver) incCacheMiss() {
	if r.metrics != nil {
		r.metrics.IncCacheMiss()
	}
}

func (r *EntitlementResolver) observeLedgerQuery(result string, duration time.Duration) {
	if r.metrics != nil {
		r.metrics.ObserveLedgerQuery(result, duration)
	}
}

func decisionFromRecord(record domain.EntitlementRecord) domain.EntitlementDecision {
	return domain.EntitlementDecision{
		Tenant:     record.Tenant,
		Period:     record.Period,
		Entitled:   record.Settled,
		Source:     record.Source,
		ObservedAt: record.ObservedAt,
	}
}
