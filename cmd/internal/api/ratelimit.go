package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Credential endpoints get a sliding-window throttle per client address to
// slow down online password guessing.
const (
	authRateLimit  = 10
	authRateWindow = time.Minute
)

type authLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string][]time.Time
	lastSweep time.Time
}

func newAuthLimiter(limit int, window time.Duration) *authLimiter {
	if limit <= 0 {
		limit = authRateLimit
	}
	if window <= 0 {
		window = authRateWindow
	}
	return &authLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string][]time.Time),
	}
}

// allow reports whether an attempt from key at time "now" is permitted.
func (l *authLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	l.sweepLocked(cut, now)

	dst := l.clients[key][:0]
	for _, t := range l.clients[key] {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= l.limit {
		l.clients[key] = dst
		return false
	}
	l.clients[key] = append(dst, now)
	return true
}

// sweepLocked drops keys whose attempts have all aged out, at most once per
// window, so the map does not grow with every client address ever seen.
func (l *authLimiter) sweepLocked(cut, now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	for key, events := range l.clients {
		live := false
		for _, t := range events {
			if t.After(cut) {
				live = true
				break
			}
		}
		if !live {
			delete(l.clients, key)
		}
	}
}

// clientKey buckets requests by remote IP, ignoring the ephemeral port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
