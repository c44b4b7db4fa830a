package server

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// minIdle is the shortest time a client's bucket is kept without requests.
const minIdle = 10 * time.Minute

// client is one IP's bucket and when it was last used.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client IP. Buckets idle for longer
// than idle are dropped; by then they have refilled, so dropping them does
// not change any decision.
type rateLimiter struct {
	bucket    map[string]*client
	rate      rate.Limit
	burstSize int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
	mutex     sync.Mutex
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	idle := minIdle
	if reqRate > 0 {
		refill := time.Duration(float64(burstSize) / float64(reqRate) * float64(time.Second))
		idle = max(idle, refill)
	}
	return &rateLimiter{
		bucket:    make(map[string]*client),
		rate:      reqRate,
		burstSize: burstSize,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// limiterFor returns the bucket of ip, creating it on first use.
func (r *rateLimiter) limiterFor(ip string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) >= r.idle {
		r.sweep(now)
	}

	c, ok := r.bucket[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.bucket[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// sweep drops buckets not used within idle of now. The caller holds the mutex.
func (r *rateLimiter) sweep(now time.Time) {
	for ip, c := range r.bucket {
		if now.Sub(c.lastSeen) >= r.idle {
			delete(r.bucket, ip)
		}
	}
	r.lastSweep = now
}

// size returns the number of tracked clients.
func (r *rateLimiter) size() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.bucket)
}

// handler rejects requests beyond the client's budget with 429.
func (r *rateLimiter) handler(log *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.IP()
		if !r.limiterFor(ip).Allow() {
			log.Warnf("too many requests for IP %s", ip)
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{Error: "too many requests"})
		}
		return c.Next()
	}
}
