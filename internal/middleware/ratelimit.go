package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type addrLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func newAddrLimiter(r rate.Limit, burst int) *addrLimiter {
	return &addrLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    burst,
		now:      time.Now,
	}
}

func (al *addrLimiter) allow(addr string) bool {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	if now.Sub(al.lastSweep) > limiterIdleTTL {
		for k, v := range al.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(al.visitors, k)
			}
		}
		al.lastSweep = now
	}

	v, ok := al.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(al.rate, al.burst)}
		al.visitors[addr] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimit limits requests per remote host. Run it after chi's RealIP when
// the service sits behind a proxy.
func RateLimit(r rate.Limit, burst int) func(http.Handler) http.Handler {
	al := newAddrLimiter(r, burst)
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !al.allow(remoteHost(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
