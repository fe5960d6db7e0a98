package quota

import (
	"context"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	dailyTTL   = 48 * time.Hour
	monthlyTTL = 35 * 24 * time.Hour
)

// RedisCounter tracks quota usage in redis. Every mutation is a single INCR
// so there is no read-modify-write window between concurrent workers.
type RedisCounter struct {
	client *redis.Client
}

var _ Counter = (*RedisCounter)(nil)

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Consume(ctx context.Context, tenantID string, ch models.Channel, settings *models.TenantSettings, now time.Time) error {
	daily := settings.QuotaFor(ch, models.QuotaDaily)
	monthly := settings.QuotaFor(ch, models.QuotaMonthly)

	if daily > 0 {
		if err := c.consumeKey(ctx, dayKey(tenantID, ch, now), daily, dailyTTL); err != nil {
			if err == errOverLimit {
				return exceeded(tenantID, ch, models.QuotaDaily)
			}
			// An unreachable counter is not a quota denial. Surface it as a
			// retryable store failure so the send keeps its retry budget.
			return errors.NewDatabaseError("quota consume", err)
		}
	}
	if monthly > 0 {
		if err := c.consumeKey(ctx, monthKey(tenantID, ch, now), monthly, monthlyTTL); err != nil {
			// Roll back the daily reservation so a monthly denial does not
			// leak daily budget.
			if daily > 0 {
				c.client.Decr(ctx, dayKey(tenantID, ch, now))
			}
			if err == errOverLimit {
				return exceeded(tenantID, ch, models.QuotaMonthly)
			}
			return errors.NewDatabaseError("quota consume", err)
		}
	}
	return nil
}

func (c *RedisCounter) consumeKey(ctx context.Context, key string, limit int64, ttl time.Duration) error {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		c.client.Expire(ctx, key, ttl)
	}
	if count > limit {
		c.client.Decr(ctx, key)
		return errOverLimit
	}
	return nil
}

func (c *RedisCounter) Usage(ctx context.Context, tenantID string, ch models.Channel, window models.QuotaWindow, now time.Time) (int64, error) {
	key := dayKey(tenantID, ch, now)
	if window == models.QuotaMonthly {
		key = monthKey(tenantID, ch, now)
	}
	count, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}
