package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/paid-storage/internal/core/domain"
)

type ledgerCall struct {
	tenant string
	period domain.Period
}

type stubLedger struct {
	mu      sync.Mutex
	settled map[ledgerCall]bool
	err     error
	calls   []ledgerCall
	// during runs inside the query, before the answer is returned.
	during func()
	block  bool
}

func newStubLedger() *stubLedger {
	return &stubLedger{settled: make(map[ledgerCall]bool)}
}

func (s *stubLedger) QueryEntitlement(ctx context.Context, tenant string, period domain.Period) (bool, error) {
	s.mu.Lock()
	key := ledgerCall{tenant: tenant, period: period}
	s.calls = append(s.calls, key)
	err := s.err
	settled := s.settled[key]
	during := s.during
	block := s.block
	s.mu.Unlock()

	if during != nil {
		during()
	}
	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return settled, nil
}

func (s *stubLedger) set(tenant string, period domain.Period, settled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled[ledgerCall{tenant: tenant, period: period}] = settled
}

func (s *stubLedger) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubLedger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubMirror struct {
	mu      sync.Mutex
	settled map[ledgerCall]time.Time
	err     error
	marks   int
	// block makes lookups wait for the caller's deadline.
	block bool
}

func newStubMirror() *stubMirror {
	return &stubMirror{settled: make(map[ledgerCall]time.Time)}
}

func (m *stubMirror) MarkSettled(_ context.Context, tenant string, period domain.Period, observedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks++
	m.settled[ledgerCall{tenant: tenant, period: period}] = observedAt
	return m.err
}

func (m *stubMirror) IsSettled(ctx context.Context, tenant string, period domain.Period) (bool, time.Time, error) {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return false, time.Time{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, time.Time{}, m.err
	}
	at, ok := m.settled[ledgerCall{tenant: tenant, period: period}]
	return ok, at, nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEntitlementMetrics struct {
	mu       sync.Mutex
	hits     int
	misses   int
	degraded int
	queries  map[string]int
	applied  int
	ignored  int
}

func (m *recordingEntitlementMetrics) IncCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *recordingEntitlementMetrics) IncCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *recordingEntitlementMetrics) ObserveLedgerQuery(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queries == nil {
		m.queries = make(map[string]int)
	}
	m.queries[result]++
}

func (m *recordingEntitlementMetrics) IncDegraded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded++
}

func (m *recordingEntitlementMetrics) IncSettlementEvent(applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if applied {
		m.applied++
	} else {
		m.ignored++
	}
}
