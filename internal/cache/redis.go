package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gallerymind/internal/model"
)

const redisKeyPrefix = "gallerymind:analysis:"

// redisEntry is the JSON record stored per source URL. CachedAt is kept for
// operators inspecting keys by hand; the TTL does the actual expiry.
type redisEntry struct {
	model.Analysis
	CachedAt string `json:"cached_at"`
}

// Redis shares the analysis cache between the API and worker processes. Every
// entry carries a TTL so a long-running deployment does not accumulate keys
// for source URLs that will never be uploaded again.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*Redis)(nil)

// NewRedis wraps an existing client. ttl bounds the lifetime of each entry.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

// Get reads and validates the entry for key. Entries that fail to decode or
// violate the completeness rules are treated as misses and removed, so a bad
// write can never poison downstream results.
func (r *Redis) Get(ctx context.Context, key string) (model.Analysis, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return model.Analysis{}, false, nil
		}
		return model.Analysis{}, false, fmt.Errorf("cache get: %w", err)
	}
	var entry redisEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		r.drop(ctx, key)
		return model.Analysis{}, false, nil
	}
	if err := entry.Analysis.Validate(); err != nil {
		r.drop(ctx, key)
		return model.Analysis{}, false, nil
	}
	return entry.Analysis, true, nil
}

// Put stores the analysis under key with the configured TTL.
func (r *Redis) Put(ctx context.Context, key string, a model.Analysis) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to cache incomplete analysis: %w", err)
	}
	entry := redisEntry{Analysis: a, CachedAt: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (r *Redis) drop(ctx context.Context, key string) {
	_ = r.client.Del(ctx, redisKeyPrefix+key).Err()
}
