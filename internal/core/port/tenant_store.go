package port

import (
	"context"

	"github.com/arklim/paid-storage/internal/core/domain"
)

// TenantStore persists tenant-scoped key/value data under a per-tenant byte quota.
type TenantStore interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, tenant, key string) ([]byte, bool, error)
	// Put writes value under key, or rejects the write with domain.ErrQuotaExceeded
	// leaving both the entry and the account untouched.
	Put(ctx context.Context, tenant, key string, value []byte) (domain.QuotaAccount, error)
	// Usage returns the tenant's current account.
	Usage(ctx context.Context, tenant string) (domain.QuotaAccount, error)
}
