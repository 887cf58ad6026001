package httpserver

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"clibin/internal/metrics"
	"clibin/internal/security"
)

// RateLimiter implements a token bucket limiter per client. Clients are
// tracked by a keyed hash of their address in a bounded, expiring table.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	window  time.Duration
	keyer   *security.ClientKeyer
	now     func() time.Time
	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter allows requests per window for each client, tracking at
// most maxClients. A nil keyer gets a random secret. It returns a nil
// limiter, which allows everything, when requests or window is not positive.
func NewRateLimiter(requests int, window time.Duration, maxClients int, keyer *security.ClientKeyer) (*RateLimiter, error) {
	if requests <= 0 || window <= 0 {
		return nil, nil
	}
	if maxClients <= 0 {
		maxClients = 10000
	}
	if keyer == nil {
		var err error
		keyer, err = security.NewClientKeyer(nil)
		if err != nil {
			return nil, err
		}
	}
	return &RateLimiter{
		rate:   rate.Every(window / time.Duration(requests)),
		burst:  requests,
		window: window,
		keyer:  keyer,
		now:    time.Now,
		// An idle bucket is full again after one window.
		clients: expirable.NewLRU[string, *rate.Limiter](maxClients, nil, window),
	}, nil
}

// Allow reports whether a request from addr is permitted and, if not, how
// long the client should wait.
func (rl *RateLimiter) Allow(addr string) (bool, time.Duration) {
	if rl == nil {
		return true, 0
	}
	if addr == "" {
		addr = "unknown"
	}
	key := rl.keyer.Key(addr)
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.clients.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.rate, rl.burst)
	}
	// Re-adding refreshes the entry's expiry.
	rl.clients.Add(key, lim)

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, rl.window
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// RateLimitMiddleware enforces the limiter per-client.
func RateLimitMiddleware(rl *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if keyFunc != nil {
				key = keyFunc(r)
			}
			if ok, wait := rl.Allow(key); !ok {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", retryAfter(wait))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// ClientIP returns the client IP respecting proxy headers when trustProxy is true.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
