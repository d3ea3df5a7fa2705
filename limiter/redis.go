package limiter

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted-set member per accepted event scored
// by its time in milliseconds. It returns -1 when the event is accepted and
// the remaining cooldown in milliseconds otherwise.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= capacity then
	local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
	if oldest[2] == nil then
		return window
	end
	return math.max(tonumber(oldest[2]) + window - now, 1)
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return -1
`

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// RedisWindow is a Limiter shared through Redis, so several bot processes
// count against the same windows. Redis errors fail open.
type RedisWindow struct {
	rdb    *redis.Client
	script *redis.Script
	name   string

	mu         sync.RWMutex
	capacity   int
	window     time.Duration
	generation int64
	now        func() time.Time
}

// NewRedisWindow creates a Redis-backed limiter under the given key namespace.
func NewRedisWindow(rdb *redis.Client, name string, capacity int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		rdb:      rdb,
		script:   redis.NewScript(slidingWindowScript),
		name:     name,
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

func (r *RedisWindow) Hit(ctx context.Context, key string) (time.Duration, bool) {
	r.mu.RLock()
	capacity, window, redisKey := r.capacity, r.window, r.key(key)
	r.mu.RUnlock()

	now := r.now().UnixMilli()
	result, err := r.script.Run(ctx, r.rdb, []string{redisKey},
		now, window.Milliseconds(), capacity, uuid.NewString()).Int64()
	if err != nil {
		log.Printf("[Limiter] Redis hit failed for %s, allowing event: %v", redisKey, err)
		return 0, false
	}
	if result < 0 {
		return 0, false
	}
	return time.Duration(result) * time.Millisecond, true
}

func (r *RedisWindow) Reset(ctx context.Context, key string) {
	r.mu.RLock()
	redisKey := r.key(key)
	r.mu.RUnlock()

	if err := r.rdb.Del(ctx, redisKey).Err(); err != nil {
		log.Printf("[Limiter] Failed to reset %s: %v", redisKey, err)
	}
}

// Reconfigure moves counting to a new key generation; old keys expire on
// their own.
func (r *RedisWindow) Reconfigure(capacity int, window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capacity = capacity
	r.window = window
	r.generation++
}

// Cleanup is a no-op; Redis expires idle keys.
func (r *RedisWindow) Cleanup() int { return 0 }

func (r *RedisWindow) key(key string) string {
	return fmt.Sprintf("aaravos:limiter:%s:%d:%s", r.name, r.generation, key)
}
