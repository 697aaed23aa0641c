package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/vidfriends/mutualsync/internal/logging"
)

// RateLimiter throttles mutating endpoints per client.
type RateLimiter interface {
	Allow(key string) bool
}

// Scopes keep the sync trigger and the incremental edits on separate budgets.
const (
	scopeSync    = "sync"
	scopeFriends = "friends"
	scopeGroups  = "groups"
)

// throttled reports whether r exceeded its budget for scope, in which case
// the 429 response has already been written.
func throttled(w http.ResponseWriter, r *http.Request, limiter RateLimiter, scope string) bool {
	if limiter == nil {
		return false
	}
	key := scope + ":" + clientIP(r)
	if limiter.Allow(key) {
		return false
	}
	ctx := r.Context()
	logging.FromContext(ctx).Warn("request throttled", "scope", scope, "client", clientIP(r))
	w.Header().Set("Retry-After", "60")
	respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
	return true
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
