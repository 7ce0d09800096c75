package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// runLimiter caps concurrent coverage runs per client and globally.
type runLimiter struct {
	mu        sync.Mutex
	running   map[string]int
	total     int
	maxClient int
	maxTotal  int
}

func newRunLimiter(maxClient, maxTotal int) *runLimiter {
	return &runLimiter{
		running:   make(map[string]int),
		maxClient: maxClient,
		maxTotal:  maxTotal,
	}
}

// acquire registers a run for client. It returns false when the client or the
// global limit has been reached.
func (l *runLimiter) acquire(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal || l.running[client] >= l.maxClient {
		return false
	}
	l.running[client]++
	l.total++
	return true
}

func (l *runLimiter) release(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.running[client]--
	l.total--
	if l.running[client] <= 0 {
		delete(l.running, client)
	}
}

func (l *runLimiter) active(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running[client]
}

// clientIP extracts the client address. Proxy headers are only honoured with
// trustProxy set, i.e. behind a reverse proxy that overwrites them.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
