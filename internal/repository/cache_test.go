package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardledger/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newTestCache(t *testing.T) (*CardCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCardCache(rdb, time.Minute), mr
}

func cachedState(cardID, balance string) model.CardState {
	limit := decimal.NewFromInt(200)
	current := decimal.RequireFromString(balance)
	return model.CardState{
		CardID:         cardID,
		CreditLimit:    limit,
		CurrentBalance: current,
		AvailableLimit: limit.Sub(current),
		IsActive:       true,
		UpdatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCardCache_Miss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "c1")
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestCardCache_OlderVersionDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	if err := c.Set(ctx, cachedState("c1", "150"), 2); err != nil {
		t.Fatalf("set v2: %v", err)
	}
	// A slow writer carrying version 1 arrives late.
	if err := c.Set(ctx, cachedState("c1", "100"), 1); err != nil {
		t.Fatalf("set v1: %v", err)
	}
	// Same version is not rewritten either.
	if err := c.Set(ctx, cachedState("c1", "120"), 2); err != nil {
		t.Fatalf("set v2 again: %v", err)
	}

	got, err := c.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CurrentBalance.Equal(decimal.NewFromInt(150)) || !got.AvailableLimit.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("stale state won: %+v", got)
	}

	if err := c.Set(ctx, cachedState("c1", "175.5"), 3); err != nil {
		t.Fatalf("set v3: %v", err)
	}
	got, err = c.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CurrentBalance.Equal(decimal.RequireFromString("175.5")) {
		t.Fatalf("newer state not stored: %+v", got)
	}

	if ttl := mr.TTL(stateKey("c1")); ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected ttl %s", ttl)
	}
}

func TestCardCache_CorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	mr.HSet(stateKey("c1"), "version", "4", "state", "{not json")

	if _, err := c.Get(ctx, "c1"); err == nil || errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected a decode error, got %v", err)
	}
	if mr.Exists(stateKey("c1")) {
		t.Fatal("corrupt entry should have been deleted")
	}

	// With the entry gone, an older version than the corrupt one can be cached again.
	if err := c.Set(ctx, cachedState("c1", "10"), 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Get(ctx, "c1"); err != nil {
		t.Fatalf("get after refill: %v", err)
	}
}
