package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/common/metrics"
	"notification-dispatch/internal/models"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "notif:catalog:"

// CachedCatalog is a read-through Redis cache in front of a Catalog. Cache
// failures are logged and the lookup falls through to the backing store.
// Empty results are never cached so a newly configured channel or template
// is picked up without waiting for the TTL. Non-empty results are served
// until the TTL expires or Invalidate is called: a new tenant override or a
// deleted channel is only seen after that. Catalog writers must call
// Invalidate (POST /api/v1/internal/catalog/invalidate) after changing rows.
type CachedCatalog struct {
	next   Catalog
	redis  redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedCatalog(next Catalog, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedCatalog {
	return &CachedCatalog{
		next:   next,
		redis:  rdb,
		ttl:    ttl,
		logger: logger.Component(log, "catalog-cache"),
	}
}

func (c *CachedCatalog) GetNotificationTypeByCode(ctx context.Context, code string) (*models.NotificationType, error) {
	key := cacheKeyPrefix + "type:" + code

	var cached models.NotificationType
	if c.get(ctx, "type", key, &cached) {
		return &cached, nil
	}

	t, err := c.next.GetNotificationTypeByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, t)
	return t, nil
}

func (c *CachedCatalog) ListChannelsByCode(ctx context.Context, code, tenantID string) ([]*models.Channel, error) {
	key := fmt.Sprintf("%schannels:%s:%s", cacheKeyPrefix, code, tenantID)

	var cached []*models.Channel
	if c.get(ctx, "channels", key, &cached) {
		return cached, nil
	}

	channels, err := c.next.ListChannelsByCode(ctx, code, tenantID)
	if err != nil {
		return nil, err
	}
	if len(channels) > 0 {
		c.set(ctx, key, channels)
	}
	return channels, nil
}

func (c *CachedCatalog) ListTemplates(ctx context.Context, notificationTypeID, channelID, tenantID string) ([]*models.Template, error) {
	key := fmt.Sprintf("%stemplates:%s:%s:%s", cacheKeyPrefix, notificationTypeID, channelID, tenantID)

	var cached []*models.Template
	if c.get(ctx, "templates", key, &cached) {
		return cached, nil
	}

	templates, err := c.next.ListTemplates(ctx, notificationTypeID, channelID, tenantID)
	if err != nil {
		return nil, err
	}
	if len(templates) > 0 {
		c.set(ctx, key, templates)
	}
	return templates, nil
}

func (c *CachedCatalog) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	key := cacheKeyPrefix + "channel:" + id

	var cached models.Channel
	if c.get(ctx, "channel", key, &cached) {
		return &cached, nil
	}

	ch, err := c.next.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, ch)
	return ch, nil
}

// Invalidate drops every cached catalog entry and returns how many were removed.
func (c *CachedCatalog) Invalidate(ctx context.Context) (int64, error) {
	var removed int64
	iter := c.redis.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.redis.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("invalidate catalog cache: %w", err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("invalidate catalog cache: %w", err)
	}

	c.logger.Info("catalog cache invalidated", map[string]interface{}{"removed": removed})
	return removed, nil
}

func (c *CachedCatalog) get(ctx context.Context, entity, key string, dest interface{}) bool {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CatalogCacheLookups.WithLabelValues(entity, "miss").Inc()
		return false
	}
	if err != nil {
		metrics.CatalogCacheLookups.WithLabelValues(entity, "error").Inc()
		c.logger.Warn("catalog cache read failed", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		metrics.CatalogCacheLookups.WithLabelValues(entity, "error").Inc()
		c.logger.Warn("catalog cache entry corrupt", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		return false
	}
	metrics.CatalogCacheLookups.WithLabelValues(entity, "hit").Inc()
	return true
}

func (c *CachedCatalog) set(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache write failed", map[string]interface{}{
			"key":   key,
			"error": err,
		})
	}
}
