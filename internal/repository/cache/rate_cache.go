package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/redis"
	"github.com/honeynil/upi-crypto-offramp/internal/models"
	"github.com/honeynil/upi-crypto-offramp/internal/repository"
)

// RateCache fronts a RateRepository with Redis. Reads go through the cache,
// writes go to the repository first and then replace the cached quote.
// Redis failures degrade to the underlying repository.
type RateCache struct {
	next  repository.RateRepository
	redis redis.RedisClient
	ttl   time.Duration
}

func NewRateCache(next repository.RateRepository, redisClient redis.RedisClient, ttl time.Duration) *RateCache {
	return &RateCache{next: next, redis: redisClient, ttl: ttl}
}

var _ repository.RateRepository = (*RateCache)(nil)

func rateKey(pair models.CurrencyPair) string {
	return fmt.Sprintf("rate:%s:%s", pair.From, pair.To)
}

func (c *RateCache) Get(ctx context.Context, pair models.CurrencyPair) (*models.ExchangeRate, error) {
	key := rateKey(pair)
	cached, err := c.redis.Get(ctx, key)
	switch {
	case err == nil:
		var rate models.ExchangeRate
		if err := json.Unmarshal([]byte(cached), &rate); err == nil {
			return &rate, nil
		}
		slog.Error("failed to unmarshal cached rate", "key", key, "error", err)
	case !stderrors.Is(err, redis.ErrKeyNotFound):
		slog.Error("failed to read rate from Redis", "key", key, "error", err)
	}

	rate, err := c.next.Get(ctx, pair)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, rate)
	return rate, nil
}

func (c *RateCache) Upsert(ctx context.Context, pair models.CurrencyPair, value decimal.Decimal) (*models.ExchangeRate, error) {
	rate, err := c.next.Upsert(ctx, pair, value)
	if err != nil {
		return nil, err
	}
	c.store(ctx, rateKey(pair), rate)
	return rate, nil
}

func (c *RateCache) store(ctx context.Context, key string, rate *models.ExchangeRate) {
	payload, err := json.Marshal(rate)
	if err != nil {
		slog.Error("failed to marshal rate", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, string(payload), c.ttl); err != nil {
		slog.Error("failed to cache rate", "key", key, "error", err)
		// a stale entry must not outlive a newer quote
		if delErr := c.redis.Del(ctx, key); delErr != nil {
			slog.Error("failed to evict cached rate", "key", key, "error", delErr)
		}
	}
}
