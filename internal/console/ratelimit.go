package console

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweep = 5 * time.Minute
	limiterIdle  = 10 * time.Minute
)

type visitor struct {
	*rate.Limiter
	seen time.Time
}

// visitors holds one token bucket per client IP.
type visitors struct {
	mu    sync.Mutex
	byIP  map[string]*visitor
	limit rate.Limit
	burst int
}

func (v *visitors) get(ip string, now time.Time) *visitor {
	v.mu.Lock()
	defer v.mu.Unlock()
	vis, ok := v.byIP[ip]
	if !ok {
		vis = &visitor{Limiter: rate.NewLimiter(v.limit, v.burst)}
		v.byIP[ip] = vis
	}
	vis.seen = now
	return vis
}

// sweep forgets visitors idle since before cutoff.
func (v *visitors) sweep(cutoff time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for ip, vis := range v.byIP {
		if vis.seen.Before(cutoff) {
			delete(v.byIP, ip)
		}
	}
}

// RateLimiter limits each client IP to rps requests per second with bursts of
// up to burst. Idle IPs are forgotten until ctx is done.
func RateLimiter(ctx context.Context, rps float64, burst int) gin.HandlerFunc {
	v := &visitors{byIP: make(map[string]*visitor), limit: rate.Limit(rps), burst: burst}

	go func() {
		t := time.NewTicker(limiterSweep)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				v.sweep(now.Add(-limiterIdle))
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(c *gin.Context) {
		if v.get(c.ClientIP(), time.Now()).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"messages": []string{"rate limit exceeded"}})
	}
}
