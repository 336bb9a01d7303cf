package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/authgate/authgate/pkg/authorize"
	"github.com/authgate/authgate/pkg/policy"
	"github.com/authgate/authgate/pkg/quota"
	"github.com/authgate/authgate/pkg/scope"
)

// Authorizer runs the full per-request decision sequence: credential
// validation, scope gate, resource policy, quota. It is the only piece
// the request pipeline calls; everything else hangs off it.
type Authorizer struct {
	logger    log.Logger
	validator authorize.Validator // nil when auth is disabled
	gate      *scope.Gate
	engine    *policy.Engine
	owners    policy.OwnerResolver
	tracker   *quota.Tracker // nil when quota is disabled

	decisionsTotal *prometheus.CounterVec
}

// NewAuthorizer wires the decision chain. validator may be nil (auth
// disabled: requests proceed anonymously, scope and policy are
// bypassed); tracker may be nil (quota disabled).
func NewAuthorizer(logger log.Logger, validator authorize.Validator, gate *scope.Gate, engine *policy.Engine, owners policy.OwnerResolver, tracker *quota.Tracker, reg prometheus.Registerer) *Authorizer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	a := &Authorizer{
		logger:    log.With(logger, "component", "server/authorizer"),
		validator: validator,
		gate:      gate,
		engine:    engine,
		owners:    owners,
		tracker:   tracker,
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_decisions_total",
				Help: "Tracks authorization outcomes by pipeline step.",
			}, []string{"step", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(a.decisionsTotal)
	}
	return a
}

// Wrap guards next with the decision sequence for the given endpoint.
func (a *Authorizer) Wrap(ep Endpoint, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(a.logger, "request", middleware.GetReqID(r.Context()))

		if ep.Public {
			next.ServeHTTP(w, r)
			return
		}

		var principal *authorize.Principal

		if a.validator != nil {
			token, err := bearerToken(r)
			if err != nil {
				a.deny(w, logger, "authenticate", err)
				return
			}

			var verr error
			principal, verr = a.validator.Validate(r.Context(), token, requestMeta(r))
			if verr != nil {
				a.deny(w, logger, "authenticate", authorize.AsError(verr))
				return
			}
			a.decisionsTotal.WithLabelValues("authenticate", "allowed").Inc()

			if err := a.gate.Check(principal, ep.RequiredScope); err != nil {
				a.deny(w, logger, "scope", authorize.AsError(err))
				return
			}
			a.decisionsTotal.WithLabelValues("scope", "allowed").Inc()

			if ep.Resource != "" {
				ref := ep.ResourceRef(r)
				var owner *authorize.Principal
				if a.owners != nil {
					owner, _ = a.owners.Owner(ref)
				}
				if a.engine.Evaluate(principal, ep.Action, ref, owner) != policy.Permit {
					a.deny(w, logger, "policy", authorize.NewForbidden("access denied by policy"))
					return
				}
			}
			a.decisionsTotal.WithLabelValues("policy", "allowed").Inc()
		}

		key, authenticated := clientKey(r, principal)
		if err := a.tracker.Allow(r.Context(), key, authenticated); err != nil {
			a.deny(w, logger, "quota", authorize.AsError(err))
			return
		}
		a.decisionsTotal.WithLabelValues("quota", "allowed").Inc()

		if principal != nil {
			r = r.WithContext(authorize.WithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authorizer) deny(w http.ResponseWriter, logger log.Logger, step string, err *authorize.Error) {
	a.decisionsTotal.WithLabelValues(step, string(err.Reason)).Inc()

	// Full detail stays server-side; UpstreamUnavailable is logged
	// loudly since it means a mandatory provider is failing requests.
	if err.Reason == authorize.ReasonUpstreamUnavailable {
		level.Error(logger).Log("msg", "auth provider unavailable", "step", step, "err", err)
	} else {
		level.Warn(logger).Log("msg", "request denied", "step", step, "reason", err.Reason, "err", err)
	}

	WriteError(w, err)
}

// WriteError renders the generic client-facing response for a denial.
func WriteError(w http.ResponseWriter, err *authorize.Error) {
	switch err.Reason {
	case authorize.ReasonQuotaExceeded:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "Quota exceeded"},
		})
	case authorize.ReasonForbidden:
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		http.Error(w, "Authentication required", http.StatusUnauthorized)
	}
}

func bearerToken(r *http.Request) (string, *authorize.Error) {
	auth := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if strings.ToLower(auth[0]) != "bearer" {
		return "", authorize.NewUnauthenticated("only bearer authorization allowed", nil)
	}
	if len(auth) != 2 || len(strings.TrimSpace(auth[1])) == 0 {
		return "", authorize.NewUnauthenticated("invalid Authorization header", nil)
	}
	return strings.TrimSpace(auth[1]), nil
}

func requestMeta(r *http.Request) authorize.RequestMeta {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		headers[k] = r.Header.Get(k)
	}
	return authorize.RequestMeta{
		Path:    r.URL.Path,
		Headers: headers,
		Params:  r.URL.Query(),
	}
}

// clientKey resolves the quota identity: the authenticated principal
// when there is one, otherwise the source IP (first X-Forwarded-For hop
// behind a proxy).
func clientKey(r *http.Request, p *authorize.Principal) (string, bool) {
	if p != nil {
		return p.ID, true
	}
	return ClientIP(r), false
}

// ClientIP extracts the caller's address for anonymous quota keys.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
