package main

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"vpnadm/backend/audit"
)

const (
	defaultRequestsPerWindow = 120
	defaultRequestWindow     = time.Minute
)

// requestLimiter throttles requests per client IP over a sliding window.
// Every route passes through it; the auth lockout tracker separately guards
// credential guessing on the login endpoints.
type requestLimiter struct {
	mu     sync.Mutex
	seen   map[string][]time.Time
	max    int
	window time.Duration
}

func newRequestLimiter(max int, window time.Duration) *requestLimiter {
	return &requestLimiter{
		seen:   make(map[string][]time.Time),
		max:    max,
		window: window,
	}
}

// allow records the request and reports whether it fits the window.
func (rl *requestLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)
	stamps := rl.seen[ip]
	start := 0
	for start < len(stamps) && stamps[start].Before(cutoff) {
		start++
	}
	stamps = stamps[start:]

	if len(stamps) >= rl.max {
		return false, stamps[0].Add(rl.window).Sub(now)
	}
	rl.seen[ip] = append(stamps, now)
	return true, 0
}

// sweep drops idle entries. Called opportunistically from allow misses is
// not enough under many distinct IPs, so the middleware triggers it lazily.
func (rl *requestLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.window)
	for ip, stamps := range rl.seen {
		if len(stamps) == 0 || stamps[len(stamps)-1].Before(cutoff) {
			delete(rl.seen, ip)
		}
	}
}

func (app *VpnAdmin) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, retryAfter := app.limiter.allow(ip)
		if !ok {
			app.audit.Record(audit.Entry{
				CorrelationID: correlationID(r),
				Event:         audit.RequestRateLimited,
				ClientIP:      ip,
				Outcome:       "rejected",
				Detail:        r.Method + " " + r.URL.Path,
			})
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
