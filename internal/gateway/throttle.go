package gateway

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	throttleMaxHosts = 10000 // max tracked addresses
	throttleIdleTTL  = 10 * time.Minute
)

// connThrottle limits how fast one remote address may open connections.
type connThrottle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*throttleEntry
	now     func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnThrottle(perSecond float64, burst int) *connThrottle {
	if burst < 1 {
		burst = 1
	}
	return &connThrottle{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		entries: make(map[string]*throttleEntry),
		now:     time.Now,
	}
}

func (t *connThrottle) allow(remoteAddr string) bool {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.entries[host]
	if !ok {
		if len(t.entries) >= throttleMaxHosts {
			t.sweep(now)
		}
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[host] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// sweep drops idle entries, or the oldest one if none are idle.
func (t *connThrottle) sweep(now time.Time) {
	var oldest string
	var oldestSeen time.Time
	for host, e := range t.entries {
		if now.Sub(e.lastSeen) > throttleIdleTTL {
			delete(t.entries, host)
			continue
		}
		if oldest == "" || e.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen = host, e.lastSeen
		}
	}
	if len(t.entries) >= throttleMaxHosts && oldest != "" {
		delete(t.entries, oldest)
	}
}

func (t *connThrottle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
