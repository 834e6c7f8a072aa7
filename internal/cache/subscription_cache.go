package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/revaiconcierge/concierge/internal/config"
	subscriptiondomain "github.com/revaiconcierge/concierge/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultSubscriptionTTL = 45 * time.Second
	redisKeyPrefix         = "concierge:subscription:active"
	redisOpTimeout         = 250 * time.Millisecond
)

// SubscriptionCache stores active-subscription lookups on the quota hot path.
type SubscriptionCache interface {
	GetActiveSubscription(ctx context.Context, tenantID string) (subscriptiondomain.Subscription, bool)
	SetActiveSubscription(ctx context.Context, tenantID string, subscription subscriptiondomain.Subscription)
	Invalidate(ctx context.Context, tenantID string)
}

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

// NewSubscriptionCache uses Redis when a client is configured so every replica sees invalidations.
func NewSubscriptionCache(p Params) SubscriptionCache {
	ttl := p.Cfg.Usage.SubscriptionTTL
	if ttl <= 0 {
		ttl = defaultSubscriptionTTL
	}
	if p.Redis != nil {
		return NewRedisSubscriptionCache(p.Redis, ttl, p.Log)
	}
	return NewMemorySubscriptionCache(ttl)
}

type memorySubscriptionCache struct {
	items Cache[string, subscriptiondomain.Subscription]
	ttl   time.Duration
}

func NewMemorySubscriptionCache(ttl time.Duration) SubscriptionCache {
	return &memorySubscriptionCache{
		items: NewTTLCache[string, subscriptiondomain.Subscription](),
		ttl:   ttl,
	}
}

func (c *memorySubscriptionCache) GetActiveSubscription(_ context.Context, tenantID string) (subscriptiondomain.Subscription, bool) {
	return c.items.Get(cacheKey(tenantID))
}

func (c *memorySubscriptionCache) SetActiveSubscription(_ context.Context, tenantID string, subscription subscriptiondomain.Subscription) {
	if subscription.ID == 0 {
		return
	}
	c.items.Set(cacheKey(tenantID), subscription, c.ttl)
}

func (c *memorySubscriptionCache) Invalidate(_ context.Context, tenantID string) {
	c.items.Delete(cacheKey(tenantID))
}

type redisSubscriptionCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisSubscriptionCache(client *redis.Client, ttl time.Duration, log *zap.Logger) SubscriptionCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &redisSubscriptionCache{
		client: client,
		ttl:    ttl,
		log:    log.Named("cache.subscription"),
	}
}

func (c *redisSubscriptionCache) GetActiveSubscription(ctx context.Context, tenantID string) (subscriptiondomain.Subscription, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.key(tenantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("redis get failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return subscriptiondomain.Subscription{}, false
	}

	var subscription subscriptiondomain.Subscription
	if err := json.Unmarshal(raw, &subscription); err != nil {
		c.log.Warn("redis payload decode failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return subscriptiondomain.Subscription{}, false
	}
	return subscription, true
}

func (c *redisSubscriptionCache) SetActiveSubscription(ctx context.Context, tenantID string, subscription subscriptiondomain.Subscription) {
	if subscription.ID == 0 {
		return
	}
	payload, err := json.Marshal(subscription)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.key(tenantID), payload, c.ttl).Err(); err != nil {
		c.log.Warn("redis set failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (c *redisSubscriptionCache) Invalidate(ctx context.Context, tenantID string) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.client.Del(ctx, c.key(tenantID)).Err(); err != nil {
		c.log.Warn("redis del failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (c *redisSubscriptionCache) key(tenantID string) string {
	return redisKeyPrefix + ":" + cacheKey(tenantID)
}
