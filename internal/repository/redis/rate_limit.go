package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	red "github.com/redis/go-redis/v9"

	"github.com/arklim/paid-storage/internal/core/port"
)

// RateLimitRepository persists request timestamps per tenant in Redis sorted sets.
type RateLimitRepository struct {
	client *red.Client
	prefix string
}

// NewRateLimitRepository constructs a repository using the provided Redis client.
func NewRateLimitRepository(client *red.Client, keyPrefix string) *RateLimitRepository {
	return &RateLimitRepository{client: client, prefix: keyPrefix}
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)

// Window trims expired attempts and summarises the remainder in a single transaction.
func (r *RateLimitRepository) Window(ctx context.Context, identifier string, window time.Duration, reference time.Time) (port.RateWindow, error) {
	if window <= 0 {
		return port.RateWindow{}, errors.New("window must be positive")
	}

	key := r.key(identifier)
	floor := strconv.FormatInt(reference.Add(-window).UnixNano(), 10)
	ceiling := strconv.FormatInt(reference.UnixNano(), 10)

	var (
		count  *red.IntCmd
		oldest *red.ZSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+floor)
		count = pipe.ZCount(ctx, key, floor, ceiling)
		oldest = pipe.ZRangeByScoreWithScores(ctx, key, &red.ZRangeBy{Min: floor, Max: ceiling, Count: 1})
		return nil
	})
	if err != nil {
		return port.RateWindow{}, fmt.Errorf("redis rate window: %w", err)
	}

	result := port.RateWindow{Count: int(count.Val())}
	if members := oldest.Val(); len(members) > 0 {
		result.Oldest = time.Unix(0, int64(members[0].Score))
		result.HasOldest = true
	}
	return result, nil
}

// RecordAttempt stores the attempt and refreshes the key's expiry.
func (r *RateLimitRepository) RecordAttempt(ctx context.Context, identifier string, at time.Time, ttl time.Duration) error {
	key := r.key(identifier)
	member := red.Z{Score: float64(at.UnixNano()), Member: strconv.FormatInt(at.UnixNano(), 10) + "-" + uuid.NewString()}

	_, err := r.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.ZAdd(ctx, key, member)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}
	return nil
}

func (r *RateLimitRepository) key(identifier string) string {
	if r.prefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.prefix, identifier)
}
