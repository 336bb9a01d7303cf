// Package policy implements the ordered access-rule engine that decides
// whether a principal may perform an action on a resource. Rules are
// parsed once at startup and shared read-only across requests.
package policy

import (
	"fmt"
	"strings"
)

// Action is one of the four operations a rule can govern.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// AllActions lists every action, in a stable order.
func AllActions() []Action {
	return []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
}

// ParseAction validates an action name from configuration.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// ResourceType is the closed enumeration of access-controlled resource
// kinds.
type ResourceType string

const (
	ResourceModel           ResourceType = "model"
	ResourceShield          ResourceType = "shield"
	ResourceVectorDB        ResourceType = "vector_db"
	ResourceDataset         ResourceType = "dataset"
	ResourceScoringFunction ResourceType = "scoring_function"
	ResourceBenchmark       ResourceType = "benchmark"
	ResourceTool            ResourceType = "tool"
	ResourceToolGroup       ResourceType = "tool_group"
	ResourceSession         ResourceType = "session"
)

var resourceTypes = map[ResourceType]struct{}{
	ResourceModel:           {},
	ResourceShield:          {},
	ResourceVectorDB:        {},
	ResourceDataset:         {},
	ResourceScoringFunction: {},
	ResourceBenchmark:       {},
	ResourceTool:            {},
	ResourceToolGroup:       {},
	ResourceSession:         {},
}

// ParseResourceType validates a resource type name from configuration.
func ParseResourceType(s string) (ResourceType, error) {
	if _, ok := resourceTypes[ResourceType(s)]; !ok {
		return "", fmt.Errorf("unknown resource type %q", s)
	}
	return ResourceType(s), nil
}

// Wildcard matches any resource identifier of a type.
const Wildcard = "*"

// ResourceRef names one access-controlled entity, or every entity of a
// type when ID is the wildcard.
type ResourceRef struct {
	Type ResourceType
	ID   string
}

func (r ResourceRef) String() string {
	return string(r.Type) + "::" + r.ID
}

// ParseResourceRef parses the "type::id" form used in rule
// configuration. A bare type is shorthand for "type::*".
func ParseResourceRef(s string) (ResourceRef, error) {
	var ref ResourceRef
	parts := strings.SplitN(s, "::", 2)
	typ, err := ParseResourceType(parts[0])
	if err != nil {
		return ref, err
	}
	ref.Type = typ
	if len(parts) == 1 || parts[1] == "" {
		ref.ID = Wildcard
		return ref, nil
	}
	ref.ID = parts[1]
	return ref, nil
}

// Decision is the outcome of a policy evaluation.
type Decision int

const (
	// Forbid denies the action. It is also the result when no rule
	// matches a non-empty rule list.
	Forbid Decision = iota
	// Permit allows the action.
	Permit
)

func (d Decision) String() string {
	if d == Permit {
		return "permit"
	}
	return "forbid"
}

// Effect is a rule's outcome when it matches.
type Effect string

const (
	EffectPermit Effect = "permit"
	EffectForbid Effect = "forbid"
)
