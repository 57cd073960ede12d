package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	window                   = time.Second
	keyPrefix                = "disbursement:ratelimit"
)

// reserveScript counts a call against a fixed window. It returns 0 when the
// call is admitted, otherwise the milliseconds left until the window resets.
var reserveScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return 1
end
return ttl
`)

var _ ratelimit.Limiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps provider calls per channel across every worker
// process sharing the same Redis.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	overrides   map[domain.ChannelType]int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRedisRateLimiter admits limitPerSec calls per channel and second.
// channelLimits overrides the limit for individual channels.
func NewRedisRateLimiter(client *goredis.Client, limitPerSec int, channelLimits map[domain.ChannelType]int) (*RedisRateLimiter, error) {
	limiter, err := newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
	if err != nil {
		return nil, err
	}

	for channel, limit := range channelLimits {
		if !channel.IsValid() {
			return nil, fmt.Errorf("%w: unknown channel %q in rate limits", domain.ErrValidation, channel)
		}
		if limit > 0 {
			limiter.overrides[channel] = int64(limit)
		}
	}
	return limiter, nil
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		overrides:   make(map[domain.ChannelType]int64),
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

// Allow consumes one call from the current window if any remain.
func (r *RedisRateLimiter) Allow(ctx context.Context, channel domain.ChannelType) (bool, error) {
	retryAfter, err := r.reserve(ctx, channel)
	if err != nil {
		return false, err
	}
	return retryAfter == 0, nil
}

// Wait blocks until a call is admitted or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel domain.ChannelType) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		retryAfter, err := r.reserve(ctx, channel)
		if err != nil {
			return err
		}
		if retryAfter == 0 {
			return nil
		}
		if err := r.sleep(ctx, min(retryAfter, window)); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, channel domain.ChannelType) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	if !channel.IsValid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnsupportedChannel, channel)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := windowKey(channel, r.now())
	ms, err := reserveScript.Run(ctx, r.client, []string{key}, r.limitFor(channel), window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (r *RedisRateLimiter) limitFor(channel domain.ChannelType) int64 {
	if limit, ok := r.overrides[channel]; ok {
		return limit
	}
	return r.limitPerSec
}

// windowKey buckets calls by channel and wall-clock second.
func windowKey(channel domain.ChannelType, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, strings.ToLower(channel.String()), at.UTC().Unix())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
