package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestSettlementMirror_MarkAndCheck(t *testing.T) {
	client, server := newTestRedis(t)
	mirror := NewSettlementMirror(client, "settled", time.Hour)
	ctx := context.Background()

	observed := time.Date(2025, 10, 12, 10, 0, 0, 123, time.UTC)
	if err := mirror.MarkSettled(ctx, "0xABC", 42, observed); err != nil {
		t.Fatalf("MarkSettled returned error: %v", err)
	}

	settled, at, err := mirror.IsSettled(ctx, "0xabc", 42)
	if err != nil {
		t.Fatalf("IsSettled returned error: %v", err)
	}
	if !settled || !at.Equal(observed) {
		t.Fatalf("expected settled at %s, got %v at %s", observed, settled, at)
	}

	remaining := server.TTL("settled:0xabc:42")
	if remaining <= 0 || remaining > time.Hour {
		t.Fatalf("expected ttl within (0, 1h], got %v", remaining)
	}
}

func TestSettlementMirror_KeepsEarliestObservation(t *testing.T) {
	client, _ := newTestRedis(t)
	mirror := NewSettlementMirror(client, "", 0)
	ctx := context.Background()

	first := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	_ = mirror.MarkSettled(ctx, "0xabc", 1, first)
	_ = mirror.MarkSettled(ctx, "0xabc", 1, first.Add(time.Hour))

	_, at, err := mirror.IsSettled(ctx, "0xabc", 1)
	if err != nil {
		t.Fatalf("IsSettled returned error: %v", err)
	}
	if !at.Equal(first) {
		t.Fatalf("expected first observation to be kept, got %s", at)
	}
}

func TestSettlementMirror_Miss(t *testing.T) {
	client, _ := newTestRedis(t)
	mirror := NewSettlementMirror(client, "settled", time.Hour)

	settled, _, err := mirror.IsSettled(context.Background(), "0xabc", 7)
	if err != nil {
		t.Fatalf("IsSettled returned error: %v", err)
	}
	if settled {
		t.Fatalf("expected miss for unknown pair")
	}
}

func TestSettlementMirror_Unavailable(t *testing.T) {
	client, server := newTestRedis(t)
	mirror := NewSettlementMirror(client, "settled", time.Hour)
	server.Close()

	if _, _, err := mirror.IsSettled(context.Background(), "0xabc", 7); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}

func TestRateLimitRepository_Window(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, "ratelimit")
	ctx := context.Background()

	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{-2 * time.Minute, -40 * time.Second, -10 * time.Second, -10 * time.Second} {
		if err := repo.RecordAttempt(ctx, "0xabc", now.Add(offset), 5*time.Minute); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	window, err := repo.Window(ctx, "0xabc", time.Minute, now)
	if err != nil {
		t.Fatalf("Window returned error: %v", err)
	}
	if window.Count != 3 {
		t.Fatalf("expected 3 attempts inside the window, got %d", window.Count)
	}
	if !window.HasOldest || window.Oldest.Sub(now.Add(-40*time.Second)).Abs() > time.Millisecond {
		t.Fatalf("unexpected oldest attempt %v (has=%v)", window.Oldest, window.HasOldest)
	}

	members, err := server.ZMembers("ratelimit:0xabc")
	if err != nil {
		t.Fatalf("ZMembers returned error: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("expected expired attempt to be trimmed, %d members remain", len(members))
	}
	if ttl := server.TTL("ratelimit:0xabc"); ttl <= 0 {
		t.Fatalf("expected ttl to be applied, got %v", ttl)
	}
}

func TestRateLimitRepository_EmptyWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, "")

	window, err := repo.Window(context.Background(), "0xabc", time.Minute, time.Now())
	if err != nil {
		t.Fatalf("Window returned error: %v", err)
	}
	if window.Count != 0 || window.HasOldest {
		t.Fatalf("expected empty window, got %+v", window)
	}

	if _, err := repo.Window(context.Background(), "0xabc", 0, time.Now()); err == nil {
		t.Fatalf("expected error for non-positive window")
	}
}
