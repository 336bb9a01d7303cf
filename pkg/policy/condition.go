package policy

import (
	"fmt"
	"strings"

	"github.com/authgate/authgate/pkg/authorize"
)

// Condition is a parsed when/unless constraint. Evaluation receives the
// requesting principal and the resource's recorded owner; a nil owner
// means the resource is not owned by anyone, so "user is owner" is false
// and "user is not owner" is true.
type Condition interface {
	Matches(p *authorize.Principal, owner *authorize.Principal) bool
}

// ParseCondition parses the closed condition grammar:
//
//	user is owner
//	user is not owner
//	user with <value> in <attribute>
//	user with <value> not in <attribute>
//	user in owners' <attribute>
//	user not in owners' <attribute>
func ParseCondition(s string) (Condition, error) {
	words := strings.Fields(s)
	switch {
	case len(words) == 3 && words[0] == "user" && words[1] == "is" && words[2] == "owner":
		return userIsOwner{}, nil
	case len(words) == 4 && words[0] == "user" && words[1] == "is" && words[2] == "not" && words[3] == "owner":
		return negate{userIsOwner{}}, nil
	case len(words) == 5 && words[0] == "user" && words[1] == "with" && words[3] == "in":
		return userHasAttribute{value: words[2], attribute: words[4]}, nil
	case len(words) == 6 && words[0] == "user" && words[1] == "with" && words[3] == "not" && words[4] == "in":
		return negate{userHasAttribute{value: words[2], attribute: words[5]}}, nil
	case len(words) == 4 && words[0] == "user" && words[1] == "in" && words[2] == "owners'":
		return userInOwnerAttribute{attribute: words[3]}, nil
	case len(words) == 5 && words[0] == "user" && words[1] == "not" && words[2] == "in" && words[3] == "owners'":
		return negate{userInOwnerAttribute{attribute: words[4]}}, nil
	}
	return nil, fmt.Errorf("invalid condition %q", s)
}

type userIsOwner struct{}

func (userIsOwner) Matches(p *authorize.Principal, owner *authorize.Principal) bool {
	return p != nil && owner != nil && owner.ID == p.ID
}

type userHasAttribute struct {
	value     string
	attribute string
}

func (c userHasAttribute) Matches(p *authorize.Principal, _ *authorize.Principal) bool {
	return p.HasAttribute(c.attribute, c.value)
}

// userInOwnerAttribute matches when the principal shares at least one
// value of the named attribute with the resource owner.
type userInOwnerAttribute struct {
	attribute string
}

func (c userInOwnerAttribute) Matches(p *authorize.Principal, owner *authorize.Principal) bool {
	if p == nil || owner == nil {
		return false
	}
	for _, v := range owner.Attributes[c.attribute] {
		if p.HasAttribute(c.attribute, v) {
			return true
		}
	}
	return false
}

type negate struct {
	inner Condition
}

func (c negate) Matches(p *authorize.Principal, owner *authorize.Principal) bool {
	return !c.inner.Matches(p, owner)
}
