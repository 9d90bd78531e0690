// Package credentials implements component D: the IP allow-list check,
// the per-endpoint connection and auth-attempt rate limiters, the
// password+SCRAM exchange, and signed-token validation.
package credentials

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// endpointLimiters hands out one golang.org/x/time/rate.Limiter per
// endpoint id, lazily created. Same lock-free-read/serialized-write
// shape as internal/connectmech.PermitLimiter (itself grounded on the
// teacher's router.Router snapshot pattern) — reads happen on every
// auth attempt, writes only when a new endpoint id is first seen.
//
// golang.org/x/time/rate is not a direct or indirect dependency
// anywhere in the example pack; github.com/go-chi/httprate is (a
// direct dependency of the hexagonal-API repo), but its public surface
// is HTTP-middleware-shaped (it wraps an http.Handler and keys off the
// request) and has no non-HTTP "check and consume one token for this
// key" call this component can invoke from a non-HTTP auth path. See
// DESIGN.md.
type endpointLimiters struct {
	writeMu  sync.Mutex
	snapshot atomic.Value // map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newEndpointLimiters(rps rate.Limit, burst int) *endpointLimiters {
	l := &endpointLimiters{rps: rps, burst: burst}
	l.snapshot.Store(map[string]*rate.Limiter{})
	return l
}

func (l *endpointLimiters) load() map[string]*rate.Limiter {
	return l.snapshot.Load().(map[string]*rate.Limiter)
}

func (l *endpointLimiters) limiterFor(endpoint string) *rate.Limiter {
	if lim, ok := l.load()[endpoint]; ok {
		return lim
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if lim, ok := l.load()[endpoint]; ok {
		return lim
	}

	cloned := make(map[string]*rate.Limiter, len(l.load())+1)
	for k, v := range l.load() {
		cloned[k] = v
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	cloned[endpoint] = lim
	l.snapshot.Store(cloned)
	return lim
}

// Allow consumes one token for endpoint, reporting whether it was
// available.
func (l *endpointLimiters) Allow(endpoint string) bool {
	return l.limiterFor(endpoint).Allow()
}

// RateLimiters bundles the two independent limiters spec §4.D steps 2
// and 4 describe: one gating new connection attempts per endpoint, one
// gating auth attempts per endpoint (tighter, since a brute-force
// password guesser sends many auth attempts per connection).
type RateLimiters struct {
	connections *endpointLimiters
	authAttempts *endpointLimiters
}

// NewRateLimiters builds both limiters from their configured rate and
// burst.
func NewRateLimiters(connRPS, connBurst int, authRPS, authBurst int) *RateLimiters {
	return &RateLimiters{
		connections:  newEndpointLimiters(rate.Limit(connRPS), connBurst),
		authAttempts: newEndpointLimiters(rate.Limit(authRPS), authBurst),
	}
}

// AllowConnection is spec §4.D step 2.
func (r *RateLimiters) AllowConnection(endpoint string) bool {
	return r.connections.Allow(endpoint)
}

// AllowAuthAttempt is spec §4.D step 4.
func (r *RateLimiters) AllowAuthAttempt(endpoint string) bool {
	return r.authAttempts.Allow(endpoint)
}
