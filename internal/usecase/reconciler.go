package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

// SettlementReconcilerOptions configures reconnect and sweep timing.
type SettlementReconcilerOptions struct {
	Interval          time.Duration
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
}

// SettlementReconciler keeps the entitlement cache consistent with the ledger.
// It drives every settlement subscription, re-subscribing with exponential backoff,
// invalidates unsettled entries whenever a stream (re)connects, and periodically
// evicts old periods and re-queries stale unsettled pairs.
type SettlementReconciler struct {
	resolver    *EntitlementResolver
	subscribers []port.SettlementSubscriber
	observers   []port.SettlementObserver
	clock       domain.PeriodClock
	opts        SettlementReconcilerOptions
	logger      *zap.Logger
	now         func() time.Time
}

// NewSettlementReconciler constructs a reconciler for the supplied subscriptions.
func NewSettlementReconciler(resolver *EntitlementResolver, clock domain.PeriodClock, opts SettlementReconcilerOptions, subscribers ...port.SettlementSubscriber) *SettlementReconciler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.ReconnectBaseWait <= 0 {
		opts.ReconnectBaseWait = 500 * time.Millisecond
	}
	if opts.ReconnectMaxWait < opts.ReconnectBaseWait {
		opts.ReconnectMaxWait = 30 * time.Second
	}

	active := make([]port.SettlementSubscriber, 0, len(subscribers))
	for _, s := range subscribers {
		if s != nil {
			active = append(active, s)
		}
	}

	return &SettlementReconciler{
		resolver:    resolver,
		subscribers: active,
		clock:       clock,
		opts:        opts,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
}

// WithLogger attaches a structured logger.
func (r *SettlementReconciler) WithLogger(logger *zap.Logger) *SettlementReconciler {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithNow overrides the clock, primarily for deterministic testing.
func (r *SettlementReconciler) WithNow(now func() time.Time) *SettlementReconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// WithObservers registers observers notified after every processed settlement event.
func (r *SettlementReconciler) WithObservers(observers ...port.SettlementObserver) *SettlementReconciler {
	for _, o := range observers {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
	return r
}

// Run blocks until ctx is cancelled, driving subscriptions and periodic sweeps.
func (r *SettlementReconciler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, subscriber := range r.subscribers {
		wg.Add(1)
		go func(s port.SettlementSubscriber) {
			defer wg.Done()
			r.subscribeLoop(ctx, s)
		}(subscriber)
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile evicts periods older than the previous one and re-queries stale unsettled
// pairs for the current and next period.
func (r *SettlementReconciler) Reconcile(ctx context.Context) {
	current := r.clock.PeriodAt(r.now().UTC())

	if evicted := r.resolver.EvictBefore(current.Previous()); evicted > 0 {
		r.logger.Debug("evicted expired entitlements", zap.Int("count", evicted), zap.Int64("floor", int64(current.Previous())))
	}

	for _, record := range r.resolver.StaleUnsettled(current, current.Next()) {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.resolver.Refresh(ctx, record.Tenant, record.Period); err != nil {
			r.logger.Warn("entitlement refresh failed",
				zap.String("tenant", record.Tenant),
				zap.Int64("period", int64(record.Period)),
				zap.Error(err),
			)
		}
	}
}

func (r *SettlementReconciler) subscribeLoop(ctx context.Context, subscriber port.SettlementSubscriber) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.ReconnectBaseWait
	b.MaxInterval = r.opts.ReconnectMaxWait
	b.Reset()

	logger := r.logger.With(zap.String("source", subscriber.Name()))
	for {
		sink := &reconcilerSink{reconciler: r, logger: logger}
		err := subscriber.Subscribe(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		if sink.connected() {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait < 0 {
			wait = r.opts.ReconnectMaxWait
		}
		logger.Warn("settlement subscription dropped", zap.Duration("retry_in", wait), zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *SettlementReconciler) handle(ctx context.Context, event domain.SettlementEvent) {
	applied := r.resolver.ApplySettlement(ctx, event)
	if len(r.observers) == 0 {
		return
	}

	eventID := event.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	observed := domain.SettlementObservedEvent{
		EventID:    eventID,
		Tenant:     domain.NormalizeTenant(event.Tenant),
		Period:     event.Period,
		Applied:    applied,
		Origin:     event.Origin,
		SettledAt:  event.SettledAt,
		ObservedAt: r.now().UTC(),
	}
	for _, o := range r.observers {
		if err := o.ObserveSettlement(ctx, observed); err != nil {
			r.logger.Warn("settlement observer failed", zap.String("event_id", eventID), zap.Error(err))
		}
	}
}

type reconcilerSink struct {
	reconciler *SettlementReconciler
	logger     *zap.Logger
	mu         sync.Mutex
	connects   int
}

func (s *reconcilerSink) OnConnected(_ context.Context, source string) {
	s.mu.Lock()
	s.connects++
	s.mu.Unlock()

	invalidated := s.reconciler.resolver.InvalidateFreshness()
	s.logger.Info("settlement subscription established", zap.String("stream", source), zap.Int("invalidated", invalidated))
}

func (s *reconcilerSink) OnSettlement(ctx context.Context, event domain.SettlementEvent) error {
	if domain.NormalizeTenant(event.Tenant) == "" {
		s.logger.Warn("dropping settlement without tenant", zap.String("event_id", event.EventID))
		return nil
	}
	s.reconciler.handle(ctx, event)
	return nil
}

func (s *reconcilerSink) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects > 0
}

var _ port.SettlementSink = (*reconcilerSink)(nil)
