// Package ratelimit 基于 redis ZSET 的滑动窗口限流。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow 返回 {allowed, retryAfterMs, remaining}。
// 窗口内计数达到 limit 时不写入本次请求，retryAfter 按最早一条算。
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)
if count < limit then
  redis.call("ZADD", key, now, member)
  redis.call("PEXPIRE", key, window)
  return {1, 0, limit - count - 1}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retryAfter = window
if oldest[2] ~= nil then
  retryAfter = (tonumber(oldest[2]) + window) - now
  if retryAfter < 0 then retryAfter = 0 end
end
return {0, retryAfter, 0}
`)

// Decision 是一次限流判断的结果。RetryAfter 只在 Allowed=false 时有意义。
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	client *redis.Client
	now    func() time.Time
	seq    atomic.Uint64
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// Allow 在 key 的窗口内记一次请求。limit <= 0 视为配置错误。
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{}, errors.New("ratelimit: limit and window must be > 0")
	}
	now := l.now()
	// member 在 ZSET 里必须唯一，同一纳秒内的请求靠序列号区分
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	res, err := slidingWindow.Run(ctx, l.client, []string{key}, now.UnixMilli(), window.Milliseconds(), limit, member).Result()
	if err != nil {
		return Decision{}, err
	}
	arr, ok := res.([]any)
	if !ok || len(arr) < 3 {
		return Decision{}, fmt.Errorf("unexpected redis eval result: %T %v", res, res)
	}

	allowed, _ := arr[0].(int64)
	retryMs, _ := arr[1].(int64)
	remaining, _ := arr[2].(int64)
	return Decision{
		Allowed:    allowed == 1,
		Limit:      limit,
		Remaining:  int(remaining),
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}
