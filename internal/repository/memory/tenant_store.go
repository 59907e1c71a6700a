package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

type namespace struct {
	mu      sync.RWMutex
	entries map[string][]byte
	used    int64
}

// TenantStore keeps tenant data in process memory. Each tenant has its own lock so
// traffic for one tenant never blocks another.
type TenantStore struct {
	tenants sync.Map // tenant -> *namespace
	limit   int64
}

// NewTenantStore constructs an empty store enforcing limitBytes per tenant.
func NewTenantStore(limitBytes int64) *TenantStore {
	return &TenantStore{limit: limitBytes}
}

// Get returns a copy of the stored value.
func (s *TenantStore) Get(_ context.Context, tenant, key string) ([]byte, bool, error) {
	ns := s.lookup(tenant)
	if ns == nil {
		return nil, false, nil
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()
	value, ok := ns.entries[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(value), true, nil
}

// Put stores value under key when the size delta fits within the tenant's limit.
func (s *TenantStore) Put(_ context.Context, tenant, key string, value []byte) (domain.QuotaAccount, error) {
	if key == "" {
		return domain.QuotaAccount{}, fmt.Errorf("%w: key is empty", domain.ErrInvalidKey)
	}

	ns := s.ensure(tenant)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	delta := domain.EntrySize(key, value)
	if previous, ok := ns.entries[key]; ok {
		delta -= domain.EntrySize(key, previous)
	}

	account := domain.QuotaAccount{Tenant: tenant, UsedBytes: ns.used, LimitBytes: s.limit}
	if !account.Admits(delta) {
		return account, fmt.Errorf("%w: %d bytes requested, %d remaining", domain.ErrQuotaExceeded, delta, account.Remaining())
	}

	ns.entries[key] = bytes.Clone(value)
	ns.used += delta
	account.UsedBytes = ns.used
	return account, nil
}

// Usage returns the tenant's current account.
func (s *TenantStore) Usage(_ context.Context, tenant string) (domain.QuotaAccount, error) {
	account := domain.QuotaAccount{Tenant: tenant, LimitBytes: s.limit}
	ns := s.lookup(tenant)
	if ns == nil {
		return account, nil
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()
	account.UsedBytes = ns.used
	return account, nil
}

func (s *TenantStore) lookup(tenant string) *namespace {
	value, ok := s.tenants.Load(tenant)
	if !ok {
		return nil
	}
	return value.(*namespace)
}

func (s *TenantStore) ensure(tenant string) *namespace {
	if ns := s.lookup(tenant); ns != nil {
		return ns
	}
	value, _ := s.tenants.LoadOrStore(tenant, &namespace{entries: make(map[string][]byte)})
	return value.(*namespace)
}

var _ port.TenantStore = (*TenantStore)(nil)
