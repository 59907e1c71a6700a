package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

// TenantStore persists tenant entries and quota accounting in PostgreSQL. Writes lock
// the tenant's quota row so concurrent writers for one tenant serialise while other
// tenants proceed independently.
type TenantStore struct {
	db      pgTxBeginner
	builder squirrel.StatementBuilderType
	limit   int64
	now     func() time.Time
}

// NewTenantStore constructs the store from any executor able to open transactions.
func NewTenantStore(db pgTxBeginner, limitBytes int64) *TenantStore {
	return &TenantStore{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		limit:   limitBytes,
		now:     time.Now,
	}
}

// WithNow overrides the clock used for updated_at columns.
func (s *TenantStore) WithNow(now func() time.Time) *TenantStore {
	if now != nil {
		s.now = now
	}
	return s
}

var _ port.TenantStore = (*TenantStore)(nil)

// Get returns the stored value and whether the key exists.
func (s *TenantStore) Get(ctx context.Context, tenant, key string) ([]byte, bool, error) {
	stmt, args, err := s.builder.
		Select("entry_value").
		From("paidstore.tenant_entries").
		Where(squirrel.Eq{"tenant": tenant}).
		Where(squirrel.Eq{"entry_key": key}).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build select entry sql: %w", err)
	}

	var value []byte
	if err := s.db.QueryRow(ctx, stmt, args...).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select entry: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// Put writes the entry and adjusts usage inside one transaction.
func (s *TenantStore) Put(ctx context.Context, tenant, key string, value []byte) (domain.QuotaAccount, error) {
	if strings.TrimSpace(key) == "" {
		return domain.QuotaAccount{}, fmt.Errorf("%w: key is empty", domain.ErrInvalidKey)
	}
	if value == nil {
		value = []byte{}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.QuotaAccount{}, fmt.Errorf("begin put: %w", err)
	}

	account, err := s.put(ctx, tx, tenant, key, value)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return account, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return account, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.QuotaAccount{}, fmt.Errorf("commit put: %w", err)
	}
	return account, nil
}

func (s *TenantStore) put(ctx context.Context, tx pgx.Tx, tenant, key string, value []byte) (domain.QuotaAccount, error) {
	now := s.now().UTC()
	account := domain.QuotaAccount{Tenant: tenant, LimitBytes: s.limit}

	ensureStmt, ensureArgs, err := s.builder.
		Insert("paidstore.tenant_quotas").
		Columns("tenant", "used_bytes", "updated_at").
		Values(tenant, int64(0), now).
		Suffix("ON CONFLICT (tenant) DO NOTHING").
		ToSql()
	if err != nil {
		return account, fmt.Errorf("build ensure quota sql: %w", err)
	}
	if _, err := tx.Exec(ctx, ensureStmt, ensureArgs...); err != nil {
		return account, fmt.Errorf("ensure quota row: %w", err)
	}

	lockStmt := `
        SELECT used_bytes
          FROM paidstore.tenant_quotas
         WHERE tenant = $1
         FOR UPDATE
    `
	if err := tx.QueryRow(ctx, lockStmt, tenant).Scan(&account.UsedBytes); err != nil {
		return account, fmt.Errorf("lock quota row: %w", err)
	}

	delta := domain.EntrySize(key, value)
	previousStmt := `
        SELECT octet_length(entry_value)
          FROM paidstore.tenant_entries
         WHERE tenant = $1 AND entry_key = $2
    `
	var previousLen int64
	switch err := tx.QueryRow(ctx, previousStmt, tenant, key).Scan(&previousLen); {
	case err == nil:
		delta -= int64(len(key)) + previousLen
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return account, fmt.Errorf("select previous entry size: %w", err)
	}

	if !account.Admits(delta) {
		return account, fmt.Errorf("%w: %d bytes requested, %d remaining", domain.ErrQuotaExceeded, delta, account.Remaining())
	}

	upsertStmt, upsertArgs, err := s.builder.
		Insert("paidstore.tenant_entries").
		Columns("tenant", "entry_key", "entry_value", "updated_at").
		Values(tenant, key, value, now).
		Suffix("ON CONFLICT (tenant, entry_key) DO UPDATE SET entry_value = EXCLUDED.entry_value, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return account, fmt.Errorf("build upsert entry sql: %w", err)
	}
	if _, err := tx.Exec(ctx, upsertStmt, upsertArgs...); err != nil {
		return account, fmt.Errorf("upsert entry: %w", err)
	}

	used := account.UsedBytes + delta
	updateStmt, updateArgs, err := s.builder.
		Update("paidstore.tenant_quotas").
		Set("used_bytes", used).
		Set("updated_at", now).
		Where(squirrel.Eq{"tenant": tenant}).
		ToSql()
	if err != nil {
		return account, fmt.Errorf("build update quota sql: %w", err)
	}
	if _, err := tx.Exec(ctx, updateStmt, updateArgs...); err != nil {
		return account, fmt.Errorf("update quota: %w", err)
	}

	account.UsedBytes = used
	return account, nil
}

// Usage returns the tenant's current account; unknown tenants report zero usage.
func (s *TenantStore) Usage(ctx context.Context, tenant string) (domain.QuotaAccount, error) {
	account := domain.QuotaAccount{Tenant: tenant, LimitBytes: s.limit}

	stmt, args, err := s.builder.
		Select("used_bytes").
		From("paidstore.tenant_quotas").
		Where(squirrel.Eq{"tenant": tenant}).
		ToSql()
	if err != nil {
		return account, fmt.Errorf("build select usage sql: %w", err)
	}

	if err := s.db.QueryRow(ctx, stmt, args...).Scan(&account.UsedBytes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account, nil
		}
		return account, fmt.Errorf("select usage: %w", err)
	}
	return account, nil
}
