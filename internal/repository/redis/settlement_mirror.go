package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

const defaultSettlementPrefix = "paidstore:settled"

// SettlementMirror records confirmed settlements in Redis so replicas share them.
type SettlementMirror struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

// NewSettlementMirror constructs the mirror. Keys expire after ttl; zero keeps them forever.
func NewSettlementMirror(client *red.Client, keyPrefix string, ttl time.Duration) *SettlementMirror {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSettlementPrefix
	}
	return &SettlementMirror{client: client, prefix: prefix, ttl: ttl}
}

var _ port.SettlementMirror = (*SettlementMirror)(nil)

// MarkSettled stores the observation time for the pair, keeping the earliest one.
func (m *SettlementMirror) MarkSettled(ctx context.Context, tenant string, period domain.Period, observedAt time.Time) error {
	key := m.key(tenant, period)
	if key == "" {
		return domain.ErrInvalidTenant
	}

	value := observedAt.UTC().Format(time.RFC3339Nano)
	if err := m.client.SetNX(ctx, key, value, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx settlement: %w", err)
	}
	return nil
}

// IsSettled reports whether the pair was mirrored and when it was first observed.
func (m *SettlementMirror) IsSettled(ctx context.Context, tenant string, period domain.Period) (bool, time.Time, error) {
	key := m.key(tenant, period)
	if key == "" {
		return false, time.Time{}, domain.ErrInvalidTenant
	}

	value, err := m.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("redis get settlement: %w", err)
	}

	observedAt, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		// a key that exists still proves settlement
		return true, time.Time{}, nil
	}
	return true, observedAt, nil
}

func (m *SettlementMirror) key(tenant string, period domain.Period) string {
	tenant = domain.NormalizeTenant(tenant)
	if tenant == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", m.prefix, tenant, strconv.FormatInt(int64(period), 10))
}
