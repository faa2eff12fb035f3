package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantex/exchange-core/internal/port"
)

var (
	_ port.BookCache     = (*RedisCache)(nil)
	_ port.CooldownCache = (*RedisCache)(nil)
)

// RedisCache serves the orderbook snapshot cache and the alert cooldown gate
// from one client.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

// Client exposes the underlying connection so the publisher can share it.
func (c *RedisCache) Client() *redis.Client { return c.client }

func (c *RedisCache) Close() error { return c.client.Close() }

func bookKey(symbol string) string { return "ob:" + symbol }

func (c *RedisCache) SetOrderbook(ctx context.Context, symbol string, ob *port.BookSnapshot) error {
	b, err := json.Marshal(ob)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, bookKey(symbol), b, c.ttl).Err()
}

func (c *RedisCache) GetOrderbook(ctx context.Context, symbol string) (*port.BookSnapshot, error) {
	b, err := c.client.Get(ctx, bookKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ob port.BookSnapshot
	if err := json.Unmarshal(b, &ob); err != nil {
		return nil, err
	}
	return &ob, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, symbol string) error {
	return c.client.Del(ctx, bookKey(symbol)).Err()
}

// Acquire takes the cooldown key for ttl. SETNX makes the check-and-set
// atomic across instances.
func (c *RedisCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, "1", ttl).Result()
}
