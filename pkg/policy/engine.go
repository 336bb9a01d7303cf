package policy

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/authgate/authgate/pkg/authorize"
)

// Engine evaluates the ordered rule list with first-match-wins
// semantics. The compiled rules are immutable, so evaluation is
// lock-free and costs one linear scan per request; rule lists are small
// enough that nothing cleverer is warranted.
type Engine struct {
	rules  []Rule
	logger log.Logger

	decisionsTotal *prometheus.CounterVec
}

// NewEngine compiles specs into an engine. An empty spec list enables
// the built-in default policy (see Evaluate).
func NewEngine(logger log.Logger, specs []RuleSpec, reg prometheus.Registerer) (*Engine, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	rules, err := Compile(specs)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		rules:  rules,
		logger: log.With(logger, "component", "policy"),
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_decisions_total",
				Help: "Tracks policy evaluations by decision.",
			}, []string{"decision"},
		),
	}
	if reg != nil {
		reg.MustRegister(e.decisionsTotal)
	}
	return e, nil
}

// Evaluate decides whether p may perform action on the resource. owner
// is the principal recorded when the resource was created, or nil for
// statically pre-configured resources.
//
// With a configured rule list, the first rule whose action, resource,
// principal, and condition all match determines the outcome, and a list
// that matches nothing denies. With no rules configured, the built-in
// default applies: every authenticated principal may act on unowned
// (pre-configured) resources, and only the creator may act on owned
// ones.
func (e *Engine) Evaluate(p *authorize.Principal, action Action, ref ResourceRef, owner *authorize.Principal) Decision {
	decision := e.evaluate(p, action, ref, owner)
	e.decisionsTotal.WithLabelValues(decision.String()).Inc()
	if decision == Forbid {
		principal := ""
		if p != nil {
			principal = p.ID
		}
		level.Debug(e.logger).Log("msg", "access denied", "principal", principal, "action", action, "resource", ref.String())
	}
	return decision
}

func (e *Engine) evaluate(p *authorize.Principal, action Action, ref ResourceRef, owner *authorize.Principal) Decision {
	if len(e.rules) == 0 {
		if owner == nil || (p != nil && owner.ID == p.ID) {
			return Permit
		}
		return Forbid
	}

	for i := range e.rules {
		if e.rules[i].matches(p, action, ref, owner) {
			if e.rules[i].effect == EffectPermit {
				return Permit
			}
			return Forbid
		}
	}
	return Forbid
}
