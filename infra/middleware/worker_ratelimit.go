package middleware

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"mailsort_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// UserRateLimiter throttles expensive trigger endpoints (sync, reclassify)
// per authenticated user, falling back to the client IP.
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	every    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewUserRateLimiter allows limit requests per window with the same burst.
func NewUserRateLimiter(limit int, window time.Duration) *UserRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &UserRateLimiter{
		limiters: make(map[string]*userLimiter),
		every:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
		idle:     max(window*2, time.Minute),
		now:      time.Now,
	}
}

func (rl *UserRateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	ul, ok := rl.limiters[key]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rl.every, rl.burst)}
		rl.limiters[key] = ul
	}
	ul.lastSeen = now

	// 오래된 항목 정리 (요청 경로에서 처리, 별도 고루틴 없음)
	if len(rl.limiters) > 1024 {
		for k, v := range rl.limiters {
			if now.Sub(v.lastSeen) > rl.idle {
				delete(rl.limiters, k)
			}
		}
	}

	r := ul.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (rl *UserRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, _ := c.Locals(LocalUserID).(string)
		if key == "" {
			key = c.IP()
		}

		ok, wait := rl.allow(key)
		if !ok {
			retry := int(math.Ceil(wait.Seconds()))
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
			return response.Error(c, fiber.StatusTooManyRequests, "RATE_LIMITED",
				fmt.Sprintf("rate limit exceeded, retry in %ds", retry))
		}
		return c.Next()
	}
}
