package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBackendUnavailable = errors.New("rate_limit_backend_unavailable")
	ErrInvalidLimit       = errors.New("invalid_rate_limit")
	errBadScriptReply     = errors.New("rate_limit_bad_script_reply")
)

// The bucket keeps fractional tokens; remaining is returned as a string so
// Lua does not truncate it to an integer.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = (clock[1] * 1000) + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil or ts == nil then
  tokens = burst
else
  local elapsed = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (elapsed / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), now}
`

// TokenBucket is the shared, redis-backed limiter used when several API
// replicas must agree on one budget per client.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	if t == nil || t.client == nil {
		return &Result{}, ErrBackendUnavailable
	}
	if err := validateLimit(key, rate, burst); err != nil {
		return &Result{}, err
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		rate, burst, bucketTTL(rate, burst).Milliseconds(),
	).Slice()
	if err != nil {
		return &Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return parseBucketReply(reply, rate, burst)
}

func parseBucketReply(reply []interface{}, rate float64, burst int) (*Result, error) {
	if len(reply) != 3 {
		return &Result{}, errBadScriptReply
	}
	allowed, ok := reply[0].(int64)
	if !ok {
		return &Result{}, errBadScriptReply
	}
	tokens, err := strconv.ParseFloat(fmt.Sprint(reply[1]), 64)
	if err != nil {
		return &Result{}, errBadScriptReply
	}
	nowMillis, ok := reply[2].(int64)
	if !ok {
		return &Result{}, errBadScriptReply
	}

	result := &Result{
		Allowed:   allowed == 1,
		Limit:     burst,
		Remaining: int(math.Floor(tokens)),
		ResetTime: time.UnixMilli(nowMillis),
	}
	if !result.Allowed {
		result.RetryAfter = time.Duration((1 - tokens) / rate * float64(time.Second))
		result.ResetTime = result.ResetTime.Add(result.RetryAfter)
	}
	return result, nil
}

func validateLimit(key string, rate float64, burst int) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidLimit)
	case rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0):
		return fmt.Errorf("%w: rate %v", ErrInvalidLimit, rate)
	case burst <= 0:
		return fmt.Errorf("%w: burst %d", ErrInvalidLimit, burst)
	}
	return nil
}

// bucketTTL keeps idle buckets for two full refills.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 {
		return time.Second
	}
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
