/**
 * @description
 * Read-through Redis cache for the subscription plan catalog. The catalog is
 * read on every subscribe/renewal and changes only on admin writes, so cached
 * entries are served until an admin update invalidates them. A nil Redis
 * client degrades to straight database reads.
 */
package store

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/creative-sparx/skillswap-backend/internal/domain"
)

const (
	planCacheActiveKey = "skillswap:plans:active"
	planCacheKeyPrefix = "skillswap:plans:id:"
)

// planSource is the subset of Repository the cache reads through to.
type planSource interface {
	GetPlanByID(ctx context.Context, planID uuid.UUID) (*domain.SubscriptionPlan, error)
	ListActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error)
}

// PlanCatalog serves plan reads from Redis in front of the repository.
type PlanCatalog struct {
	source planSource
	redis  *redis.Client
	ttl    time.Duration
}

// NewPlanCatalog creates a catalog cache. redisClient may be nil.
func NewPlanCatalog(source planSource, redisClient *redis.Client, ttl time.Duration) *PlanCatalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PlanCatalog{source: source, redis: redisClient, ttl: ttl}
}

// GetPlanByID returns one plan, preferring the cache.
func (c *PlanCatalog) GetPlanByID(ctx context.Context, planID uuid.UUID) (*domain.SubscriptionPlan, error) {
	key := planCacheKeyPrefix + planID.String()
	if c.redis != nil {
		if raw, err := c.redis.Get(ctx, key).Bytes(); err == nil {
			var plan domain.SubscriptionPlan
			if err := json.Unmarshal(raw, &plan); err == nil {
				return &plan, nil
			}
			// Corrupt entry: drop it and fall through to the database.
			c.redis.Del(ctx, key)
		}
	}

	plan, err := c.source.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, plan)
	return plan, nil
}

// ListActivePlans returns the public catalog, preferring the cache.
func (c *PlanCatalog) ListActivePlans(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	if c.redis != nil {
		if raw, err := c.redis.Get(ctx, planCacheActiveKey).Bytes(); err == nil {
			var plans []domain.SubscriptionPlan
			if err := json.Unmarshal(raw, &plans); err == nil {
				return plans, nil
			}
			c.redis.Del(ctx, planCacheActiveKey)
		}
	}

	plans, err := c.source.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	c.put(ctx, planCacheActiveKey, plans)
	return plans, nil
}

// Invalidate drops the cached catalog after an admin write. Called with the
// plan id that changed; the active listing is always dropped alongside it.
func (c *PlanCatalog) Invalidate(ctx context.Context, planID uuid.UUID) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, planCacheActiveKey, planCacheKeyPrefix+planID.String()).Err(); err != nil {
		log.Printf("level=warn component=plan_cache msg=\"cache invalidation failed\" plan_id=%s err=%v", planID, err)
	}
}

func (c *PlanCatalog) put(ctx context.Context, key string, value interface{}) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Printf("level=warn component=plan_cache msg=\"cache write failed\" key=%s err=%v", key, err)
	}
}
