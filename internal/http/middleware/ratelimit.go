package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wolfman30/buyer-lead-intake/internal/identity"
	"github.com/wolfman30/buyer-lead-intake/internal/ratelimit"
)

const tooManyRequests = "Too many requests. Please try again later."

// ClientIdentity keys rate limits by principal when authenticated and by
// client address otherwise.
func ClientIdentity(r *http.Request) string {
	if p, ok := identity.FromContext(r.Context()); ok {
		return "user:" + p.ID
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return "ip:" + first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return "ip:" + xri
	}
	return "ip:unknown"
}

// SlidingWindow admits requests through limiter, publishing the quota in
// X-RateLimit-* headers and rejecting with 429 once it is spent.
func SlidingWindow(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(r.Context(), ClientIdentity(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
			if !res.Allowed {
				h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":      tooManyRequests,
					"retryAfter": res.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IngressLimiter is a coarse per-IP token bucket placed in front of every
// route.
type IngressLimiter struct {
	mu      sync.Mutex
	clients map[string]*ingressClient
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

type ingressClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIngressLimiter allows rps requests per second per IP with the given burst.
func NewIngressLimiter(rps float64, burst int) *IngressLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IngressLimiter{
		clients: make(map[string]*ingressClient),
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    10 * time.Minute,
	}
}

// Allow reports whether a request from ip fits in its bucket.
func (l *IngressLimiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &ingressClient{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()
	return c.limiter.Allow()
}

// Run evicts idle buckets until ctx is cancelled.
func (l *IngressLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(time.Now().Add(-l.idle))
		}
	}
}

func (l *IngressLimiter) evict(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			n++
		}
	}
	return n
}

// RateLimit rejects requests exceeding the ingress limiter with 429.
func RateLimit(l *IngressLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(remoteIP(r)) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": tooManyRequests})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteIP reads RemoteAddr only; chi's RealIP has already rewritten it
// from trusted proxy headers when mounted.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
