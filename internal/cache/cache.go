// Package cache holds the Redis read-through cache for hot read paths and the
// maintenance-mode change channel.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix          = "studiobook:"
	maintenanceKey     = keyPrefix + "maintenance"
	maintenanceChannel = keyPrefix + "maintenance:changed"
)

func slotsKey(date string) string {
	return fmt.Sprintf("%sslots:%s", keyPrefix, date)
}

// Cache is a nil-safe wrapper around a Redis client. With no client every read
// misses and every write is a no-op.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, logger: logger.With().Str("component", "cache").Logger()}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.rdb != nil && c.ttl > 0
}

// Ping checks the Redis connection. A disabled cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) read(ctx context.Context, key string, out any) bool {
	if !c.Enabled() {
		return false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Cache) write(ctx context.Context, key string, val any) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Slots returns the cached booked slots of date.
func (c *Cache) Slots(ctx context.Context, date string) ([]models.BookedSlot, bool) {
	var slots []models.BookedSlot
	if !c.read(ctx, slotsKey(date), &slots) {
		return nil, false
	}
	return slots, true
}

func (c *Cache) SetSlots(ctx context.Context, date string, slots []models.BookedSlot) {
	if slots == nil {
		slots = []models.BookedSlot{}
	}
	c.write(ctx, slotsKey(date), slots)
}

// InvalidateSlots drops the cached slots of the given dates.
func (c *Cache) InvalidateSlots(ctx context.Context, dates ...string) {
	if c == nil || c.rdb == nil || len(dates) == 0 {
		return
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		if d != "" {
			keys = append(keys, slotsKey(d))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Strs("dates", dates).Msg("cache invalidation failed")
	}
}

// Maintenance returns the cached maintenance flag.
func (c *Cache) Maintenance(ctx context.Context) (*models.Maintenance, bool) {
	var m models.Maintenance
	if !c.read(ctx, maintenanceKey, &m) {
		return nil, false
	}
	return &m, true
}

// SetMaintenance caches m and announces the change to other instances.
func (c *Cache) SetMaintenance(ctx context.Context, m *models.Maintenance) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, maintenanceKey, data, 0)
	pipe.Publish(ctx, maintenanceChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("maintenance publish failed")
	}
}

// WatchMaintenance calls fn for every maintenance change published by any
// instance until ctx is done.
func (c *Cache) WatchMaintenance(ctx context.Context, fn func(models.Maintenance)) {
	if c == nil || c.rdb == nil {
		return
	}
	sub := c.rdb.Subscribe(ctx, maintenanceChannel)
	if _, err := sub.Receive(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("maintenance subscribe failed")
		_ = sub.Close()
		return
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m models.Maintenance
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					c.logger.Warn().Err(err).Msg("bad maintenance payload")
					continue
				}
				fn(m)
			}
		}
	}()
}
