package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	clientIdleTTL     = 3 * time.Minute
	clientSweepPeriod = time.Minute
)

// clientLimits tracks one token bucket per caller IP. Idle entries are
// swept inline on lookup, so the limiter owns no goroutine and needs no
// stop path.
type clientLimits struct {
	mu        sync.Mutex
	rps       float64
	burst     int
	clients   map[string]*clientBucket
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (c *clientLimits) allow(ip string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) > clientSweepPeriod {
		for key, bucket := range c.clients {
			if now.Sub(bucket.lastSeen) > clientIdleTTL {
				delete(c.clients, key)
			}
		}
		c.lastSweep = now
	}

	bucket, ok := c.clients[ip]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(rate.Limit(c.rps), c.burst)}
		c.clients[ip] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}

func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	limits := &clientLimits{
		rps:       rps,
		burst:     burst,
		clients:   make(map[string]*clientBucket),
		lastSweep: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limits.allow(extractIP(r.RemoteAddr)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"too many requests"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
