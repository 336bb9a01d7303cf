package server

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/authgate/authgate/pkg/authorize"
)

// Ratelimit applies an in-process token bucket per client address in
// front of the quota store, so a flooding client burns CPU here instead
// of hammering memcached. It is a burst smoother, not the quota: the
// persistent window counters remain authoritative.
func Ratelimit(requestsPerSecond float64, burst int, now func() time.Time, next http.Handler) http.Handler {
	s := ratelimitStore{
		limits: make(map[string]*rate.Limiter),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Limit(requestsPerSecond, burst, now(), ClientIP(r)); err != nil {
			WriteError(w, authorize.NewQuotaExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

type ratelimitStore struct {
	limits map[string]*rate.Limiter
	mu     sync.Mutex
}

type errLimitReached struct{}

func (errLimitReached) Error() string { return "request rate limit reached" }

func (s *ratelimitStore) Limit(requestsPerSecond float64, burst int, now time.Time, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limits[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		s.limits[key] = limiter
	}

	if !limiter.AllowN(now, 1) {
		return errLimitReached{}
	}

	return nil
}
