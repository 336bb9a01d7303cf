package policy

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/authgate/authgate/pkg/authorize"
)

// RuleSpec is the configuration form of one access rule, as it appears
// under access_policy in the server configuration.
type RuleSpec struct {
	Effect      string   `yaml:"effect" json:"effect"`
	Principal   string   `yaml:"principal,omitempty" json:"principal,omitempty"`
	Resource    string   `yaml:"resource,omitempty" json:"resource,omitempty"`
	Actions     []string `yaml:"actions" json:"actions"`
	When        string   `yaml:"when,omitempty" json:"when,omitempty"`
	Unless      string   `yaml:"unless,omitempty" json:"unless,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// Rule is the compiled, immutable form evaluated per request.
type Rule struct {
	effect    Effect
	principal string // empty matches any principal
	resource  *ResourceRef
	actions   map[Action]struct{}
	condition Condition // nil is always true
}

// Compile validates and compiles an ordered rule list. Every syntax or
// enumeration error is fatal here, at startup; evaluation never fails.
func Compile(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		rule, err := compileRule(spec)
		if err != nil {
			return nil, errors.Wrapf(err, "access_policy rule %d", i)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compileRule(spec RuleSpec) (Rule, error) {
	var rule Rule

	switch Effect(spec.Effect) {
	case EffectPermit, EffectForbid:
		rule.effect = Effect(spec.Effect)
	default:
		return rule, fmt.Errorf("effect must be permit or forbid, got %q", spec.Effect)
	}

	if len(spec.Actions) == 0 {
		return rule, fmt.Errorf("at least one action is required")
	}
	rule.actions = make(map[Action]struct{}, len(spec.Actions))
	for _, a := range spec.Actions {
		action, err := ParseAction(a)
		if err != nil {
			return rule, err
		}
		rule.actions[action] = struct{}{}
	}

	if spec.Resource != "" {
		ref, err := ParseResourceRef(spec.Resource)
		if err != nil {
			return rule, err
		}
		rule.resource = &ref
	}

	rule.principal = spec.Principal

	if spec.When != "" && spec.Unless != "" {
		return rule, fmt.Errorf("when and unless are mutually exclusive")
	}
	if spec.When != "" {
		cond, err := ParseCondition(spec.When)
		if err != nil {
			return rule, err
		}
		rule.condition = cond
	}
	if spec.Unless != "" {
		cond, err := ParseCondition(spec.Unless)
		if err != nil {
			return rule, err
		}
		rule.condition = negate{cond}
	}

	return rule, nil
}

// matches reports whether the rule applies to the triple. Absent
// matchers match everything; a wildcard resource id matches any id of
// the same type only.
func (r *Rule) matches(p *authorize.Principal, action Action, ref ResourceRef, owner *authorize.Principal) bool {
	if _, ok := r.actions[action]; !ok {
		return false
	}
	if r.resource != nil {
		if r.resource.Type != ref.Type {
			return false
		}
		if r.resource.ID != Wildcard && r.resource.ID != ref.ID {
			return false
		}
	}
	if r.principal != "" && (p == nil || p.ID != r.principal) {
		return false
	}
	if r.condition != nil && !r.condition.Matches(p, owner) {
		return false
	}
	return true
}
