// Package ratelimit is a Redis sliding-window rate limiter and the chi
// middleware that applies it.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tokenshrt/internal/logger"
	"github.com/patric-chuzhbe/tokenshrt/internal/models"
)

// slidingWindow keeps one sorted-set member per request scored by its arrival
// time in milliseconds. It returns {allowed, retryAfterMs}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
redis.call("ZADD", key, now, member)
local count = redis.call("ZCARD", key)
redis.call("PEXPIRE", key, window)

if count <= limit then
  return {1, 0}
end

redis.call("ZREM", key, member)

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest[2] ~= nil then
  local retryAfter = (tonumber(oldest[2]) + window) - now
  if retryAfter < 0 then retryAfter = 0 end
  return {0, retryAfter}
end
return {0, window}
`)

type Limiter struct {
	client redis.Scripter
	seq    atomic.Uint64
}

func New(client redis.Scripter) *Limiter {
	return &Limiter{client: client}
}

// Allow records one hit on key and reports whether it fits in limit hits per
// window. retryAfter is meaningful only when the hit is rejected.
func (l *Limiter) Allow(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (bool, time.Duration, error) {
	now := time.Now()
	// UnixNano alone repeats on coarse clocks
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	res, err := slidingWindow.Run(
		ctx,
		l.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("in internal/ratelimit/ratelimit.go/Allow(): error while `slidingWindow.Run()` calling: %w", err)
	}

	arr, ok := res.([]any)
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected redis eval result: %T %v", res, res)
	}

	allowed, _ := arr[0].(int64)
	retryAfterMs, _ := arr[1].(int64)

	return allowed == 1, time.Duration(retryAfterMs) * time.Millisecond, nil
}

type allower interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// KeyFunc names the bucket a request is counted in.
type KeyFunc func(request *http.Request) string

// Middleware rejects requests over limit per window with 429 and a
// Retry-After header. A nil limiter or a failing Redis lets everything through.
func Middleware(
	limiter allower,
	prefix string,
	limit int,
	window time.Duration,
	keyFunc KeyFunc,
) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return h
		}

		middleware := func(response http.ResponseWriter, request *http.Request) {
			var builder strings.Builder
			builder.WriteString("rl:")
			builder.WriteString(prefix)
			builder.WriteString(":")
			builder.WriteString(keyFunc(request))

			ctx, cancel := context.WithTimeout(request.Context(), 50*time.Millisecond)
			defer cancel()

			allowed, retryAfter, err := limiter.Allow(ctx, builder.String(), limit, window)
			if err != nil {
				logger.Log.Errorw("rate limit check failed", zap.Error(err))
				h.ServeHTTP(response, request)
				return
			}
			if !allowed {
				if retryAfter > 0 {
					secs := int64((retryAfter + time.Second - 1) / time.Second)
					response.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				}
				response.Header().Set("Content-Type", "application/json")
				response.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(response).Encode(models.ErrorResponse{Detail: "rate limit exceeded"})
				return
			}

			h.ServeHTTP(response, request)
		}

		return http.HandlerFunc(middleware)
	}
}
