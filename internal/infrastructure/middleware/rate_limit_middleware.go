package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tandem/pkg/cache"
	"tandem/pkg/config"
	"tandem/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Limiters idle this long are forgotten; a returning caller starts with a full bucket.
const limiterIdleTTL = 10 * time.Minute

// ipLimiters hands out one token bucket per caller address.
type ipLimiters struct {
	mu      sync.Mutex
	buckets *cache.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	return &ipLimiters{
		buckets: cache.New[string, *rate.Limiter](limiterIdleTTL),
		limit:   limit,
		burst:   max(burst, 1),
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets.Get(ip)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
	}
	l.buckets.Set(ip, bucket)
	l.mu.Unlock()

	return bucket.Allow()
}

// clientIP extracts the caller address, preferring the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware limits API requests per caller IP and, optionally,
// caps how many run at once. It is a pass-through when rate limiting is off.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	httpCfg := cfg.RateLimiting.HTTP
	limiters := newIPLimiters(rate.Limit(httpCfg.RequestsPerSecond), httpCfg.Burst)

	var inflight chan struct{}
	if httpCfg.MaxConcurrent > 0 {
		inflight = make(chan struct{}, httpCfg.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if !limiters.allow(clientIP(c.Request)) {
			c.Header("Retry-After", "1")
			abortWithError(c, errors.NewRateLimitError())
			return
		}

		if inflight != nil {
			select {
			case inflight <- struct{}{}:
				defer func() { <-inflight }()
			default:
				abortWithError(c, errors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}
		c.Next()
	}
}
