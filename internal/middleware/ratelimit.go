package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/homequest/internal/auth"
)

// RealIP returns the client address, trusting CF-Connecting-IP and then the
// first X-Forwarded-For hop before RemoteAddr.
func RealIP(r *http.Request) string {
	for _, h := range []string{"CF-Connecting-IP", "X-Forwarded-For"} {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// UserOrIP keys requests by authenticated user, falling back to client IP.
func UserOrIP(r *http.Request) string {
	if uid := auth.UserID(r.Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + RealIP(r)
}

// Policy allows Limit requests per key in each fixed Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	used    int
	resetAt time.Time
}

// RateLimiter tracks fixed-window request counts per key, in memory.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Take spends one request from key's current window.
func (rl *RateLimiter) Take(key string, p Policy) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(p.Window)}
		rl.buckets[key] = b
	}
	if b.used >= p.Limit {
		return Decision{RetryAfter: b.resetAt.Sub(now)}
	}
	b.used++
	return Decision{Allowed: true, Remaining: p.Limit - b.used}
}

// Cleanup drops buckets whose window has ended and reports how many.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for key, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// RateLimit rejects requests over policy with 429 and a Retry-After header.
// Allowed responses carry X-RateLimit-Limit and X-RateLimit-Remaining.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Take(keyFunc(r), p)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(p.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeJSONError(w, http.StatusTooManyRequests, "Too many requests.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
