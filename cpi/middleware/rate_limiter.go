package middleware

import (
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// RateLimiters hands out rate-limited transports, one token bucket
// per endpoint host. Infrastructure APIs throttle aggressively, and a
// busy deployment against one provider endpoint must not starve calls
// to another.
type RateLimiters struct {
	RPS, Burst int

	mu     sync.Mutex
	byHost map[string]*rate.Limiter
}

// RoundTripper wraps rt so that requests to host draw from that
// host's bucket. Two transports for the same host share a limiter.
func (l *RateLimiters) RoundTripper(rt http.RoundTripper, host string) http.RoundTripper {
	return &RoundTripRateLimiter{rl: l.limiterFor(host), next: rt}
}

func (l *RateLimiters) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byHost == nil {
		l.byHost = map[string]*rate.Limiter{}
	}
	lim, ok := l.byHost[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.RPS), l.Burst)
		l.byHost[host] = lim
	}
	return lim
}

type RoundTripRateLimiter struct {
	rl   *rate.Limiter
	next http.RoundTripper
}

func (t *RoundTripRateLimiter) RoundTrip(req *http.Request) (*http.Response, error) {
	// Wait gives up immediately when the request deadline cannot
	// cover the queueing delay, instead of burning the deadline
	// blocked on a token.
	if err := t.rl.Wait(req.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limited")
	}
	return t.next.RoundTrip(req)
}
