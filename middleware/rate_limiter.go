package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"messenger/apperror"
)

const rateLimitWindow = time.Minute

// RateLimiter 按客户端IP的固定窗口限流。计数保存在Redis，Redis不可用时退回进程内令牌桶
type RateLimiter struct {
	rdb      *redis.Client
	apiLimit int
	wsLimit  int
	wsPath   string
	logger   *zap.Logger

	mu        sync.Mutex
	local     map[string]*localBucket
	lastSweep time.Time
	now       func() time.Time
}

// localBucket 进程内限流器及其最近一次使用时间
type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器，rdb 可以为 nil
func NewRateLimiter(rdb *redis.Client, apiLimit, wsLimit int, wsPath string, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		apiLimit: apiLimit,
		wsLimit:  wsLimit,
		wsPath:   wsPath,
		logger:   logger,
		local:    make(map[string]*localBucket),
		now:      time.Now,
	}
}

// Middleware 限流中间件，WebSocket握手使用更严格的限制
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		scope, limit := "api", rl.apiLimit
		if c.Request.URL.Path == rl.wsPath {
			scope, limit = "ws", rl.wsLimit
		}
		if limit <= 0 {
			c.Next()
			return
		}

		key := "rate_limit:" + scope + ":" + clientIP
		allowed, remaining := rl.allow(c.Request.Context(), key, limit)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Error(apperror.TooManyRequests("Too many requests, please try again later"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string, limit int) (bool, int) {
	if rl.rdb != nil {
		count, err := rl.rdb.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				rl.rdb.Expire(ctx, key, rateLimitWindow)
			}
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			return count <= int64(limit), remaining
		}
		rl.logger.Warn("Redis限流失败，使用本地限流", zap.Error(err))
	}

	limiter := rl.localLimiter(key, limit)
	if !limiter.Allow() {
		return false, 0
	}
	return true, int(limiter.Tokens())
}

func (rl *RateLimiter) localLimiter(key string, limit int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rateLimitWindow {
		rl.sweepLocked(now)
	}

	b, ok := rl.local[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rate.Every(rateLimitWindow/time.Duration(limit)), limit)}
		rl.local[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// sweepLocked 删除一个窗口内未使用的限流器，它们的令牌已经补满，与新建的等价
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for key, b := range rl.local {
		if now.Sub(b.lastSeen) >= rateLimitWindow {
			delete(rl.local, key)
		}
	}
	rl.lastSweep = now
}
