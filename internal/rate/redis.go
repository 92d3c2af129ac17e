package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fx-ledger/internal/types"
)

const defaultKeyPrefix = "fxl:rl:"

// One atomic INCR+PEXPIRE round trip; the first hit in a window starts
// its expiry clock.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  ttl = window_ms
end

if current > limit then
  return {0, ttl}
end
return {1, ttl}
`)

// RedisCounter enforces per-class fixed-window budgets against a shared
// redis, so every process instance sees the same counters.
type RedisCounter struct {
	client  *redis.Client
	budgets Budgets
	prefix  string
}

func NewRedisCounter(client *redis.Client, budgets Budgets, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCounter{client: client, budgets: budgets, prefix: prefix}
}

func (c *RedisCounter) Allow(ctx context.Context, key string, class types.EndpointClass, _ time.Time) (bool, time.Duration, error) {
	budget, ok := c.budgets[class]
	if !ok {
		return false, 0, fmt.Errorf("no budget for endpoint class %q", class)
	}
	windowMS := budget.Window.Milliseconds()
	if windowMS <= 0 {
		return false, 0, fmt.Errorf("invalid rate window for class %q", class)
	}

	redisKey := c.prefix + string(class) + ":" + key
	res, err := windowScript.Run(ctx, c.client, []string{redisKey}, budget.Limit, windowMS).Result()
	if err != nil {
		return false, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected redis response")
	}
	allowed, ok := vals[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis response")
	}
	ttlMS, ok := vals[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis response")
	}

	retryAfter := time.Duration(ttlMS) * time.Millisecond
	if retryAfter < 0 {
		retryAfter = 0
	}
	return allowed == 1, retryAfter, nil
}
