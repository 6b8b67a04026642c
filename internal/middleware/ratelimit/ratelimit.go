// Package ratelimit provides per-client token bucket rate limiting. Requests
// that start a reconciliation run draw from a separate, smaller bucket.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/appstatus/internal/middleware/realip"
)

// Config holds the configuration for rate limiting
type Config struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
	// ChecksPerMin is the budget for POST /api/v1/runs. Zero means the
	// general budget applies.
	ChecksPerMin int
}

type class uint8

const (
	classAPI class = iota
	classCheck
)

type bucketKey struct {
	ip    string
	class class
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds the buckets of all clients seen recently.
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	limits  map[class]rate.Limit
	bursts  map[class]int
	idle    time.Duration
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

// New creates a Limiter and starts evicting idle buckets.
func New(cfg Config) *Limiter {
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}

	l := &Limiter{
		buckets: make(map[bucketKey]*bucket),
		limits: map[class]rate.Limit{
			classAPI:   perMinute(cfg.RequestsPerMin),
			classCheck: perMinute(cfg.RequestsPerMin),
		},
		bursts: map[class]int{classAPI: burst, classCheck: burst},
		idle:   idle,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	if cfg.ChecksPerMin > 0 {
		l.limits[classCheck] = perMinute(cfg.ChecksPerMin)
		l.bursts[classCheck] = min(burst, cfg.ChecksPerMin)
	}

	go l.evictLoop()
	return l
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// Stop stops the eviction goroutine.
func (l *Limiter) Stop() {
	l.stopped.Do(func() { close(l.stopCh) })
}

func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evict()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// allow reports whether the client may make another request of class c.
func (l *Limiter) allow(ip string, c class) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey{ip: ip, class: c}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limits[c], l.bursts[c])}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	return b.limiter.AllowN(b.lastSeen, 1)
}

// healthCheckPaths are exempt from rate limiting
var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

func classify(r *http.Request) class {
	if r.Method == http.MethodPost && strings.TrimSuffix(r.URL.Path, "/") == "/api/v1/runs" {
		return classCheck
	}
	return classAPI
}

// Middleware returns an HTTP middleware that rate limits requests per client.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if healthCheckPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			c := classify(r)
			if !l.allow(realip.GetClientIP(r), c) {
				message := "Too many requests. Please try again later."
				if c == classCheck {
					message = "Too many reconciliation runs. Please try again later."
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": message,
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Middleware returns a rate limiting middleware with the given configuration.
// The limiter lives for the lifetime of the process.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return New(cfg).Middleware()
}
