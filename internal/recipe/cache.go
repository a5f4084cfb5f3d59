package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "recipe"

// CachedSource memoises recipe rows in Redis for ttl. Recipes are edited
// outside this service, so ttl bounds how long an edit takes to show up.
// Redis failures fall through to the wrapped source.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedSource wraps next. A nil client disables caching.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{next: next, client: client, ttl: ttl, logger: logger}
}

// BaseIngredients implements Source.
func (c *CachedSource) BaseIngredients(ctx context.Context, menuID int64) ([]Line, error) {
	return c.fetch(ctx, menuID, "base", func(ctx context.Context) ([]Line, error) {
		return c.next.BaseIngredients(ctx, menuID)
	})
}

// AddonIngredients implements Source.
func (c *CachedSource) AddonIngredients(ctx context.Context, menuID int64, addonIDs []int64) ([]Line, error) {
	if len(addonIDs) == 0 {
		return nil, nil
	}
	return c.fetch(ctx, menuID, "addon:"+joinIDs(addonIDs), func(ctx context.Context) ([]Line, error) {
		return c.next.AddonIngredients(ctx, menuID, addonIDs)
	})
}

func (c *CachedSource) fetch(ctx context.Context, menuID int64, part string, loader func(context.Context) ([]Line, error)) ([]Line, error) {
	if c.client == nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("%s:%d:%s", keyPrefix, menuID, part)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var lines []Line
		if err := json.Unmarshal(payload, &lines); err == nil {
			return lines, nil
		}
		c.logger.Warn("recipe cache entry corrupt", slog.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("recipe cache read failed", slog.String("key", key), slog.Any("error", err))
		return loader(ctx)
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		lines, err := loader(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(lines)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(context.WithoutCancel(ctx), key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("recipe cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return lines, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		lines, _ := res.Val.([]Line)
		return lines, nil
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
