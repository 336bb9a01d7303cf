package quota

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/authgate/authgate/pkg/authorize"
)

// Tracker enforces per-client request ceilings over recurring windows.
// The zero-value (nil) tracker is a no-op: quota is disabled unless
// configured.
type Tracker struct {
	store  Store
	period Period
	logger log.Logger

	anonymousMax     uint64
	authenticatedMax uint64
	// authConfigured records whether an authentication provider exists.
	// Without one, every caller counts as anonymous no matter what token
	// they present, so authenticated_max_requests never applies.
	authConfigured bool

	requestsTotal *prometheus.CounterVec

	now func() time.Time
}

// Options configures a Tracker.
type Options struct {
	Period           Period
	AnonymousMax     uint64
	AuthenticatedMax uint64
	AuthConfigured   bool
}

// NewTracker builds a Tracker over the given store.
func NewTracker(logger log.Logger, store Store, opts Options, reg prometheus.Registerer) *Tracker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	t := &Tracker{
		store:            store,
		period:           opts.Period,
		logger:           log.With(logger, "component", "quota"),
		anonymousMax:     opts.AnonymousMax,
		authenticatedMax: opts.AuthenticatedMax,
		authConfigured:   opts.AuthConfigured,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_requests_total",
				Help: "Tracks quota checks by outcome.",
			}, []string{"outcome"},
		),
		now: time.Now,
	}
	if reg != nil {
		reg.MustRegister(t.requestsTotal)
	}
	return t
}

// Allow counts one request for the client key and reports whether it is
// within the window ceiling. The over-limit request still counts: the
// increment is not rolled back, so a client hammering past the ceiling
// stays blocked for the rest of the window.
func (t *Tracker) Allow(ctx context.Context, key string, authenticated bool) error {
	if t == nil {
		return nil
	}

	limit := t.anonymousMax
	if authenticated && t.authConfigured && t.authenticatedMax > 0 {
		limit = t.authenticatedMax
	}
	if limit == 0 {
		t.requestsTotal.WithLabelValues("allowed").Inc()
		return nil
	}

	window := t.period.WindowID(t.now())
	count, err := t.store.Increment(ctx, key, window)
	if err != nil {
		// A broken quota store fails the request rather than silently
		// uncapping it.
		t.requestsTotal.WithLabelValues("error").Inc()
		level.Error(t.logger).Log("msg", "quota store increment failed", "err", err)
		return authorize.NewUpstreamUnavailable("quota store unavailable", err)
	}

	if count > limit {
		t.requestsTotal.WithLabelValues("exceeded").Inc()
		level.Info(t.logger).Log("msg", "quota exceeded", "window", window, "count", count, "limit", limit)
		return authorize.NewQuotaExceeded()
	}

	t.requestsTotal.WithLabelValues("allowed").Inc()
	return nil
}
