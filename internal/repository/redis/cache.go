package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const modelsCacheKey = "models:list"

// ModelsCache keeps the backend model listing for a short TTL
type ModelsCache struct {
	client *Client
	ttl    time.Duration
}

// NewModelsCache creates a new models cache
func NewModelsCache(client *Client, ttl time.Duration) *ModelsCache {
	return &ModelsCache{client: client, ttl: ttl}
}

// Get returns the cached listing. A miss returns (nil, nil).
func (c *ModelsCache) Get(ctx context.Context) (json.RawMessage, error) {
	data, err := c.client.rdb.Get(ctx, modelsCacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read models cache: %w", err)
	}
	return json.RawMessage(data), nil
}

// Set stores the listing
func (c *ModelsCache) Set(ctx context.Context, listing json.RawMessage) error {
	if err := c.client.rdb.Set(ctx, modelsCacheKey, []byte(listing), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write models cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached listing
func (c *ModelsCache) Invalidate(ctx context.Context) error {
	return c.client.rdb.Del(ctx, modelsCacheKey).Err()
}
