// Package redis provides a Redis-backed QuotaStore for llmgate.
//
// Each windowed counter is a Redis hash, and Reserve runs as a single Lua
// script so the read-compare-increment is indivisible across instances.
// Expired records are garbage-collected by Redis key expiry.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/penscribe/llmgate"
)

// Store is a Redis-backed QuotaStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ llmgate.QuotaStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "llmgate:quota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed QuotaStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "llmgate:quota:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) recordKey(key string) string {
	return s.keyPrefix + key
}

// Records are held an hour past their reset so read-only checks can still
// see the last elapsed window before expiry reclaims it.
const expiryGraceMs = 3600000

// reserveScript is a Lua script for atomic fixed-window reserve.
// KEYS[1] = record hash key
// ARGV[1] = limit
// ARGV[2] = now (unix ms)
// ARGV[3] = reset_at (unix ms)
// ARGV[4] = record id for a fresh window
//
// Returns {allowed, count, reset_at_ms}.
var reserveScript = goredis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local reset_at = tonumber(ARGV[3])
local id = ARGV[4]

local cur_reset = tonumber(redis.call("HGET", key, "reset_at") or "0")
local count = tonumber(redis.call("HGET", key, "count") or "0")

-- Missing record or elapsed window: current count is zero.
if cur_reset == 0 or now > cur_reset then
    if limit < 1 then
        return {0, 0, reset_at}
    end
    redis.call("HSET", key, "id", id, "count", 1, "reset_at", reset_at, "created_at", now, "updated_at", now)
    redis.call("PEXPIRE", key, reset_at - now + ` + strconv.Itoa(expiryGraceMs) + `)
    return {1, 1, reset_at}
end

if count < limit then
    count = redis.call("HINCRBY", key, "count", 1)
    redis.call("HSET", key, "updated_at", now)
    return {1, count, cur_reset}
end

-- Denial never mutates the record.
return {0, count, cur_reset}
`)

// Reserve applies atomic fixed-window check-and-increment for key.
func (s *Store) Reserve(ctx context.Context, key string, limit int64, now, resetAt time.Time) (llmgate.Decision, error) {
	vals, err := reserveScript.Run(ctx, s.client,
		[]string{s.recordKey(key)},
		limit, now.UnixMilli(), resetAt.UnixMilli(), uuid.New().String(),
	).Int64Slice()
	if err != nil {
		return llmgate.Decision{}, fmt.Errorf("llmgate/redis: reserve: %w", err)
	}
	if len(vals) != 3 {
		return llmgate.Decision{}, fmt.Errorf("llmgate/redis: unexpected reserve result: %v", vals)
	}

	allowed := vals[0] == 1
	count := vals[1]
	remaining := limit - count
	if !allowed || remaining < 0 {
		remaining = 0
	}

	return llmgate.Decision{
		Allowed:   allowed,
		Remaining: remaining,
		Count:     count,
		ResetAt:   time.UnixMilli(vals[2]),
	}, nil
}

// Peek returns the live record for key without mutating it.
func (s *Store) Peek(ctx context.Context, key string) (llmgate.QuotaRecord, bool, error) {
	vals, err := s.client.HMGet(ctx, s.recordKey(key),
		"id", "count", "reset_at", "created_at", "updated_at").Result()
	if err != nil {
		return llmgate.QuotaRecord{}, false, fmt.Errorf("llmgate/redis: peek: %w", err)
	}
	if vals[0] == nil {
		return llmgate.QuotaRecord{}, false, nil
	}

	count, _ := strconv.ParseInt(vals[1].(string), 10, 64)
	resetAt, _ := strconv.ParseInt(vals[2].(string), 10, 64)
	createdAt, _ := strconv.ParseInt(vals[3].(string), 10, 64)
	updatedAt, _ := strconv.ParseInt(vals[4].(string), 10, 64)

	return llmgate.QuotaRecord{
		ID:        vals[0].(string),
		Key:       key,
		Count:     count,
		ResetAt:   time.UnixMilli(resetAt),
		CreatedAt: time.UnixMilli(createdAt),
		UpdatedAt: time.UnixMilli(updatedAt),
	}, true, nil
}
