package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// maxTrackedKeys is a hard cap on the limiter's memory. At capacity, expired
// windows are swept first; if every window is still live, the oldest one is
// dropped to admit the new key.
const maxTrackedKeys = 10000

type window struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window request limiter keyed by authenticated user,
// falling back to remote IP for anonymous requests.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it is within the
// current window's limit.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		if !ok && len(l.windows) >= maxTrackedKeys {
			l.evictExpired(now)
			for len(l.windows) >= maxTrackedKeys {
				l.evictOldest()
			}
		}
		l.windows[key] = &window{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.limit
}

// evictExpired is called with the lock held.
func (l *RateLimiter) evictExpired(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, k)
		}
	}
}

// evictOldest is called with the lock held.
func (l *RateLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, w := range l.windows {
		if oldestKey == "" || w.start.Before(oldest) {
			oldestKey = k
			oldest = w.start
		}
	}
	if oldestKey != "" {
		delete(l.windows, oldestKey)
	}
}

// Middleware rejects over-limit requests with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := UserFromCtx(r.Context()).String()
		if key == "00000000-0000-0000-0000-000000000000" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = "ip:" + host
		}
		if !l.Allow(key) {
			http.Error(w, `{"error_code":"rate-limited","message":"too many requests"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
