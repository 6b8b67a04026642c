// Package realip resolves the client address of a request, honouring
// forwarding headers only when the peer is a trusted proxy.
package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Config holds the configuration for the real IP middleware
type Config struct {
	// TrustProxy enables X-Forwarded-For header parsing
	TrustProxy bool
	// TrustedProxies lists CIDR ranges or single addresses
	TrustedProxies []string
}

// Resolver extracts client addresses.
type Resolver struct {
	trust    bool
	prefixes []netip.Prefix
}

// NewResolver builds a resolver. Entries that are neither a prefix nor an
// address are ignored.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{trust: cfg.TrustProxy}
	if !cfg.TrustProxy {
		return r
	}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if p, err := netip.ParsePrefix(entry); err == nil {
			r.prefixes = append(r.prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			r.prefixes = append(r.prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return r
}

// Middleware returns an HTTP middleware that stores the client IP in the
// request context.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	resolver := NewResolver(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextKey{}, resolver.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the client address of r. X-Forwarded-For is walked from
// the right and the first untrusted hop wins.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := hostOf(r.RemoteAddr)
	if !res.trust || !res.trusted(peer) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !res.trusted(hop) {
			return hop
		}
	}
	return strings.TrimSpace(hops[0])
}

func (res *Resolver) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range res.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// GetClientIP retrieves the client IP stored by Middleware, falling back to
// the peer address.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextKey{}).(string); ok && ip != "" {
		return ip
	}
	return hostOf(r.RemoteAddr)
}
