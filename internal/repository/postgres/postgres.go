package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxBeginner interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS paidstore`,
	`CREATE TABLE IF NOT EXISTS paidstore.tenant_quotas (
        tenant      TEXT PRIMARY KEY,
        used_bytes  BIGINT NOT NULL DEFAULT 0 CHECK (used_bytes >= 0),
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE TABLE IF NOT EXISTS paidstore.tenant_entries (
        tenant       TEXT NOT NULL REFERENCES paidstore.tenant_quotas (tenant),
        entry_key    TEXT NOT NULL,
        entry_value  BYTEA NOT NULL,
        updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (tenant, entry_key)
    )`,
}

// EnsureSchema creates the paidstore schema and tables when they are missing.
func EnsureSchema(ctx context.Context, exec pgExecutor) error {
	for _, stmt := range schemaStatements {
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
