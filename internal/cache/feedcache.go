// Package cache is the optional Redis layer for latest feed records.
// A nil *FeedCache is valid and no-ops, so callers never branch on
// whether Redis was configured.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/insightlabs/observatory/internal/core"
)

const defaultFeedTTL = 5 * time.Minute

// FeedCache stores the most recent UnifiedPriceFeed per symbol.
type FeedCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis and verifies connectivity. Callers that treat
// the cache as optional should log the error and continue with nil.
func New(addr, password string, db int) (*FeedCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	log.Printf("[Cache] connected addr=%s db=%d", addr, db)
	return &FeedCache{rdb: rdb, ttl: defaultFeedTTL}, nil
}

// FeedKey builds the cache key for one feed.
func FeedKey(protocol core.Protocol, chain, symbol string) string {
	return fmt.Sprintf("feed:%s:%s:%s", protocol, chain, symbol)
}

// PutFeed stores the record under its feed key with the default TTL.
func (c *FeedCache) PutFeed(ctx context.Context, feed *core.UnifiedPriceFeed) error {
	if c == nil || feed == nil {
		return nil
	}
	raw, err := json.Marshal(feed)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, FeedKey(feed.Protocol, feed.Chain, feed.Symbol), raw, c.ttl).Err()
}

// PutFeeds pipelines a batch of records.
func (c *FeedCache) PutFeeds(ctx context.Context, feeds []*core.UnifiedPriceFeed) error {
	if c == nil || len(feeds) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for _, f := range feeds {
		raw, err := json.Marshal(f)
		if err != nil {
			return err
		}
		pipe.Set(ctx, FeedKey(f.Protocol, f.Chain, f.Symbol), raw, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetFeed returns the cached record, or (nil, false, nil) on a miss.
func (c *FeedCache) GetFeed(ctx context.Context, protocol core.Protocol, chain, symbol string) (*core.UnifiedPriceFeed, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.Get(ctx, FeedKey(protocol, chain, symbol)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var feed core.UnifiedPriceFeed
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, false, err
	}
	return &feed, true, nil
}

// Close shuts the underlying client down. Safe on nil.
func (c *FeedCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
