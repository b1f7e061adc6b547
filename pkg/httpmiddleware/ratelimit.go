package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client fixed-window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window per client.
	Max int
	// Window is the window length.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. If nil the
	// client IP is used, preferring the first X-Forwarded-For entry.
	KeyFunc func(*http.Request) string
}

type rateWindow struct {
	start time.Time
	count int
}

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rateWindow
	cfg     RateLimitConfig
}

// allow reports whether a request keyed by key may proceed at now, along
// with the remaining quota and the end of the current window.
func (l *rateLimiter) allow(key string, now time.Time) (ok bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.clients[key]
	if !exists || now.Sub(w.start) >= l.cfg.Window {
		w = &rateWindow{start: now}
		l.clients[key] = w
	}
	reset = w.start.Add(l.cfg.Window)
	if w.count >= l.cfg.Max {
		return false, 0, reset
	}
	w.count++
	return true, l.cfg.Max - w.count, reset
}

// cleanup drops windows that ended, bounding memory across distinct clients.
func (l *rateLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.clients {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.clients, key)
		}
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimit returns a fixed-window rate limiting middleware. Rejected
// requests get a 429 with the standard X-RateLimit headers set.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a background goroutine that evicts
// stale client windows until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newRateLimiter(cfg)

	go func() {
		ticker := time.NewTicker(cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				l.cleanup(t)
			}
		}
	}()

	return l.middleware()
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &rateLimiter{
		clients: make(map[string]*rateWindow),
		cfg:     cfg,
	}
}

func (l *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, reset := l.allow(l.cfg.KeyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !ok {
				h.Set("Content-Type", "application/json")
				h.Set("Retry-After", strconv.Itoa(int(time.Until(reset).Seconds())+1))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":429,"message":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
