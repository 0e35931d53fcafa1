package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Per-IP rate limiting. Map builds run the layout engine and get the strictest tier.
const (
	rateLimitLayoutPerMin   = 30
	rateLimitLayoutBurst    = 30
	rateLimitGetPerMin      = 120
	rateLimitGetBurst       = 120
	rateLimitStandardPerMin = 60
	rateLimitStandardBurst  = 60

	// limiters of clients idle for longer are forgotten
	limiterIdleTTL = 10 * time.Minute
	maxTrackedIPs  = 10000
)

type rateLimitTier int

const (
	tierLayout rateLimitTier = iota
	tierGet
	tierStandard
)

func (t rateLimitTier) limiterConfig() (rate.Limit, int) {
	switch t {
	case tierLayout:
		return rate.Limit(float64(rateLimitLayoutPerMin) / 60.0), rateLimitLayoutBurst
	case tierGet:
		return rate.Limit(float64(rateLimitGetPerMin) / 60.0), rateLimitGetBurst
	default:
		return rate.Limit(float64(rateLimitStandardPerMin) / 60.0), rateLimitStandardBurst
	}
}

func (t rateLimitTier) limitHeader() int {
	switch t {
	case tierLayout:
		return rateLimitLayoutPerMin
	case tierGet:
		return rateLimitGetPerMin
	default:
		return rateLimitStandardPerMin
	}
}

// apiRateLimiter holds per-IP limiters per tier.
type apiRateLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newAPIRateLimiter() *apiRateLimiter {
	return &apiRateLimiter{limiters: expirable.NewLRU[string, *rate.Limiter](maxTrackedIPs, nil, limiterIdleTTL)}
}

func (l *apiRateLimiter) getLimiter(ip string, t rateLimitTier) *rate.Limiter {
	key := fmt.Sprintf("%d|%s", t, ip)
	if lim, ok := l.limiters.Get(key); ok {
		// refresh the idle TTL
		l.limiters.Add(key, lim)
		return lim
	}
	limit, burst := t.limiterConfig()
	lim := rate.NewLimiter(limit, burst)
	l.limiters.Add(key, lim)
	return lim
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

func tierForRequest(r *http.Request) rateLimitTier {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case strings.HasSuffix(path, "/resourcemap"),
		strings.HasSuffix(path, "/resourcemap/export"),
		r.Method == http.MethodPost && strings.HasSuffix(path, "/resourcemap/snapshots"):
		return tierLayout
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		return tierGet
	}
	return tierStandard
}

// isLoopback returns true for localhost/loopback IPs (127.x.x.x and ::1).
func isLoopback(ip string) bool {
	ip = strings.Trim(ip, "[]")
	if ip == "::1" || ip == "localhost" {
		return true
	}
	return strings.HasPrefix(ip, "127.")
}

// RateLimit returns middleware that limits requests per IP.
// Excludes /health, /metrics, and loopback clients.
// Uses token bucket: 30/min map builds, 120/min other GETs, 60/min everything else.
// Returns 429 with Retry-After and sets X-RateLimit-* headers.
func RateLimit() func(http.Handler) http.Handler {
	limiter := newAPIRateLimiter()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/health" || path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			ip := getClientIP(r)
			if isLoopback(ip) {
				next.ServeHTTP(w, r)
				return
			}
			tier := tierForRequest(r)
			lim := limiter.getLimiter(ip, tier)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tier.limitHeader()))

			reservation := lim.Reserve()
			if delay := reservation.Delay(); !reservation.OK() || delay > 0 {
				reservation.Cancel()
				retryAfter := int(delay.Seconds()) + 1
				if !reservation.OK() || retryAfter > 60 {
					retryAfter = 60
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(retryAfter)*time.Second).Unix(), 10))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"Too many requests. Please retry later.","code":"RATE_LIMITED"}`))
				return
			}

			tokens := int(lim.Tokens())
			if tokens < 0 {
				tokens = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tokens))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
			next.ServeHTTP(w, r)
		})
	}
}
