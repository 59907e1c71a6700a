package usecase

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/arklim/paid-storage/internal/core/domain"
)

const entitlementCacheShards = 32

type entitlementKey struct {
	tenant string
	period domain.Period
}

type entitlementEntry struct {
	record domain.EntitlementRecord
	// invalidated forces the next lookup of an unsettled entry back to the ledger.
	invalidated bool
}

type entitlementShard struct {
	mu      sync.RWMutex
	entries map[entitlementKey]entitlementEntry
}

// entitlementCache is a concurrent map of settlement state sharded by tenant.
// A settled entry is never replaced by an unsettled one.
type entitlementCache struct {
	shards [entitlementCacheShards]*entitlementShard
}

func newEntitlementCache() *entitlementCache {
	c := &entitlementCache{}
	for i := range c.shards {
		c.shards[i] = &entitlementShard{entries: make(map[entitlementKey]entitlementEntry)}
	}
	return c
}

func (c *entitlementCache) shard(tenant string) *entitlementShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenant))
	return c.shards[h.Sum32()%entitlementCacheShards]
}

func (c *entitlementCache) get(tenant string, period domain.Period) (entitlementEntry, bool) {
	s := c.shard(tenant)
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[entitlementKey{tenant: tenant, period: period}]
	return entry, ok
}

// storeQueried records a live query result and returns the record now held.
// An unsettled result never overwrites a settled entry learned concurrently.
func (c *entitlementCache) storeQueried(record domain.EntitlementRecord) domain.EntitlementRecord {
	key := entitlementKey{tenant: record.Tenant, period: record.Period}
	s := c.shard(record.Tenant)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.record.Settled && !record.Settled {
		return existing.record
	}
	s.entries[key] = entitlementEntry{record: record}
	return record
}

// markSettled sets the entry to settled and reports whether anything changed.
func (c *entitlementCache) markSettled(tenant string, period domain.Period, observedAt time.Time, source domain.EntitlementSource) bool {
	key := entitlementKey{tenant: tenant, period: period}
	s := c.shard(tenant)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.record.Settled {
		return false
	}
	s.entries[key] = entitlementEntry{record: domain.EntitlementRecord{
		Tenant:     tenant,
		Period:     period,
		Settled:    true,
		ObservedAt: observedAt,
		Source:     source,
	}}
	return true
}

// invalidateUnsettled marks every unsettled entry as requiring a live query.
func (c *entitlementCache) invalidateUnsettled() int {
	invalidated := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, entry := range s.entries {
			if entry.record.Settled || entry.invalidated {
				continue
			}
			entry.invalidated = true
			s.entries[key] = entry
			invalidated++
		}
		s.mu.Unlock()
	}
	return invalidated
}

// evictBefore removes every entry whose period precedes floor.
func (c *entitlementCache) evictBefore(floor domain.Period) int {
	evicted := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key := range s.entries {
			if key.period < floor {
				delete(s.entries, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// staleUnsettled lists unsettled records that are invalidated or older than window.
func (c *entitlementCache) staleUnsettled(now time.Time, window time.Duration, periods map[domain.Period]struct{}) []domain.EntitlementRecord {
	var out []domain.EntitlementRecord
	for _, s := range c.shards {
		s.mu.RLock()
		for key, entry := range s.entries {
			if entry.record.Settled {
				continue
			}
			if _, watched := periods[key.period]; !watched {
				continue
			}
			if entry.invalidated || entry.record.Age(now) >= window {
				out = append(out, entry.record)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

func (c *entitlementCache) len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}
