package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spacedatabank/marketd/internal/domain"
)

const itemTTL = 5 * time.Minute

// ItemCache implements domain.ItemCache using JSON-serialized items under
// item:{id} keys. All three ledger queries go straight to the store; only
// single-item reads are cached, and every mutation invalidates its entry.
type ItemCache struct {
	rdb *redis.Client
}

// NewItemCache creates an ItemCache backed by the given Client.
func NewItemCache(c *Client) *ItemCache {
	return &ItemCache{rdb: c.Underlying()}
}

func itemKey(id int64) string {
	return "item:" + strconv.FormatInt(id, 10)
}

// Set stores an item in the cache with a short TTL.
func (ic *ItemCache) Set(ctx context.Context, item domain.MarketItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("redis: marshal item %d: %w", item.ID, err)
	}
	if err := ic.rdb.Set(ctx, itemKey(item.ID), data, itemTTL).Err(); err != nil {
		return fmt.Errorf("redis: set item %d: %w", item.ID, err)
	}
	return nil
}

// Get retrieves an item by id. It returns domain.ErrNotFound when the key
// does not exist or has expired.
func (ic *ItemCache) Get(ctx context.Context, id int64) (domain.MarketItem, error) {
	data, err := ic.rdb.Get(ctx, itemKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketItem{}, domain.ErrNotFound
		}
		return domain.MarketItem{}, fmt.Errorf("redis: get item %d: %w", id, err)
	}

	var item domain.MarketItem
	if err := json.Unmarshal(data, &item); err != nil {
		return domain.MarketItem{}, fmt.Errorf("redis: unmarshal item %d: %w", id, err)
	}
	return item, nil
}

// Invalidate removes an item's cache entry.
func (ic *ItemCache) Invalidate(ctx context.Context, id int64) error {
	if err := ic.rdb.Del(ctx, itemKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate item %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ItemCache = (*ItemCache)(nil)
