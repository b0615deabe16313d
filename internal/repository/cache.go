package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cardledger/internal/model"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/set_state.lua
var setStateLuaScript string

var ErrCacheMiss = errors.New("card state not found in cache")

// CardCache keeps recent card snapshots in Redis for display reads.
// Entries are keyed by card and only ever replaced by a higher card version,
// so a slow writer cannot roll the cache back.
type CardCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	setState    *redis.Script
}

func NewCardCache(rdb *redis.Client, ttl time.Duration) *CardCache {
	return &CardCache{
		redisClient: rdb,
		ttl:         ttl,
		setState:    redis.NewScript(setStateLuaScript),
	}
}

func stateKey(cardID string) string {
	return fmt.Sprintf("card:state:{%s}", cardID)
}

func (c *CardCache) Get(ctx context.Context, cardID string) (*model.CardState, error) {
	raw, err := c.redisClient.HGet(ctx, stateKey(cardID), "state").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var state model.CardState
	if err := json.Unmarshal(raw, &state); err != nil {
		// Unreadable entries are dropped so the next read refills them.
		if delErr := c.Delete(ctx, cardID); delErr != nil {
			return nil, fmt.Errorf("decode cached state: %w (delete: %v)", err, delErr)
		}
		return nil, fmt.Errorf("decode cached state: %w", err)
	}
	return &state, nil
}

// Set stores state unless the cache already holds the same or a newer version.
func (c *CardCache) Set(ctx context.Context, state model.CardState, version int64) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	keys := []string{stateKey(state.CardID)}
	args := []interface{}{version, payload, c.ttl.Milliseconds()}

	if err := c.setState.Run(ctx, c.redisClient, keys, args...).Err(); err != nil {
		return fmt.Errorf("error executing Lua script: %w", err)
	}
	return nil
}

func (c *CardCache) Delete(ctx context.Context, cardID string) error {
	return c.redisClient.Del(ctx, stateKey(cardID)).Err()
}
