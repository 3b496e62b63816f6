// Package cache holds a Redis cache for computed feature tables, keyed by
// cutoff and vocabulary hash so a stale vocabulary can never serve a table.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
)

// FeatureCache caches feature tables in Redis. A miss is not an error:
// callers fall through to the feature engine and Put the result.
type FeatureCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewFeatureCache creates a feature table cache with the given TTL.
func NewFeatureCache(client *redis.Client, ttl time.Duration) *FeatureCache {
	return &FeatureCache{client: client, ttl: ttl}
}

func key(cutoff time.Time, vocabHash string) string {
	return fmt.Sprintf("propensity:features:%d:%s", cutoff.Unix(), vocabHash)
}

// Get returns the cached table for (cutoff, vocabulary hash), with a hit
// flag. Decode failures are treated as misses and the entry is dropped.
func (c *FeatureCache) Get(ctx context.Context, cutoff time.Time, vocabHash string) (*domain.FeatureTable, bool, error) {
	k := key(cutoff, vocabHash)
	data, err := c.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("feature cache get %s: %w", k, err)
	}

	var table domain.FeatureTable
	if err := json.Unmarshal(data, &table); err != nil {
		log.Warn().Str("key", k).Err(err).Msg("Dropping undecodable feature cache entry")
		c.client.Del(ctx, k)
		return nil, false, nil
	}

	log.Debug().Str("key", k).Int("customers", table.Len()).Msg("Feature cache hit")
	return &table, true, nil
}

// Put stores a computed table under (cutoff, vocabulary hash).
func (c *FeatureCache) Put(ctx context.Context, cutoff time.Time, vocabHash string, table *domain.FeatureTable) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("feature cache encode: %w", err)
	}

	k := key(cutoff, vocabHash)
	if err := c.client.Set(ctx, k, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("feature cache put %s: %w", k, err)
	}

	log.Debug().Str("key", k).Int("customers", table.Len()).Msg("Feature cache store")
	return nil
}
