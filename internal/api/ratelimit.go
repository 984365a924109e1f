package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's limiter survives without requests.
const limiterIdleTTL = 10 * time.Minute

type clientLimiters struct {
	rps   int
	mu    sync.Mutex
	cache *gocache.Cache
}

func newClientLimiters(rps int, idle time.Duration) *clientLimiters {
	return &clientLimiters{
		rps:   rps,
		cache: gocache.New(idle, 2*idle),
	}
}

// get returns the limiter for ip, creating it on first use. Each call
// pushes the entry's expiry out by the idle TTL.
func (l *clientLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.cache.Get(ip)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.rps)
	}
	l.cache.SetDefault(ip, lim)
	return lim.(*rate.Limiter)
}

func (l *clientLimiters) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware limits each client IP to rps requests per second.
// Limiters of clients idle for longer than limiterIdleTTL are evicted.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	return newClientLimiters(rps, limiterIdleTTL).middleware()
}
