package prices

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	priceKeyPrefix     = "quiver:price:"
	lastKnownKeyPrefix = "quiver:price:last:"
	priceTTL           = 30 * time.Second
)

// CachedAccessor decorates an Accessor with a Redis read-through cache.
// When the upstream fails it falls back to the last known value so trigger
// evaluation degrades instead of stalling.
type CachedAccessor struct {
	upstream Accessor
	client   *redis.Client
	logger   *slog.Logger
}

func NewCachedAccessor(upstream Accessor, client *redis.Client, logger *slog.Logger) *CachedAccessor {
	return &CachedAccessor{
		upstream: upstream,
		client:   client,
		logger:   logger.With("module", "price_cache"),
	}
}

func (c *CachedAccessor) GetPrice(ctx context.Context, token, chain string) (float64, error) {
	key := priceKeyPrefix + chain + ":" + token

	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		price, parseErr := strconv.ParseFloat(cached, 64)
		if parseErr == nil {
			return price, nil
		}

		c.logger.WarnContext(ctx, "discarding unparseable cached price", "key", key, "value", cached)
	}

	price, err := c.upstream.GetPrice(ctx, token, chain)
	if err != nil {
		return c.lastKnown(ctx, token, chain, err)
	}

	c.store(ctx, token, chain, price)

	return price, nil
}

// GetBalance is not cached: balance staleness would defeat the point of
// sufficiency checks.
func (c *CachedAccessor) GetBalance(ctx context.Context, wallet, token, chain string) (float64, error) {
	return c.upstream.GetBalance(ctx, wallet, token, chain)
}

func (c *CachedAccessor) store(ctx context.Context, token, chain string, price float64) {
	value := strconv.FormatFloat(price, 'f', -1, 64)

	if err := c.client.Set(ctx, priceKeyPrefix+chain+":"+token, value, priceTTL).Err(); err != nil {
		c.logger.WarnContext(ctx, "failed to cache price", "token", token, "chain", chain, "error", err)
	}

	// Last-known copy never expires; it only backs the degraded path.
	if err := c.client.Set(ctx, lastKnownKeyPrefix+chain+":"+token, value, 0).Err(); err != nil {
		c.logger.WarnContext(ctx, "failed to record last known price", "token", token, "chain", chain, "error", err)
	}
}

func (c *CachedAccessor) lastKnown(ctx context.Context, token, chain string, cause error) (float64, error) {
	cached, err := c.client.Get(ctx, lastKnownKeyPrefix+chain+":"+token).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: no last known value for %s on %s", cause, token, chain)
	}

	price, err := strconv.ParseFloat(cached, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt last known value for %s on %s", cause, token, chain)
	}

	c.logger.WarnContext(ctx, "serving last known price after upstream failure",
		"token", token, "chain", chain, "error", cause)

	return price, nil
}
