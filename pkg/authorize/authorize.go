package authorize

import (
	"context"
	"net/url"
	"sort"
)

// Attribute categories a principal may carry. Providers normalize their
// claim or response shapes into these lists.
const (
	AttributeRoles      = "roles"
	AttributeTeams      = "teams"
	AttributeProjects   = "projects"
	AttributeNamespaces = "namespaces"
)

// Principal is the authenticated identity for a single request. It is
// constructed once by a Validator and never mutated afterwards, so it is
// safe to share across goroutines handling the same request.
type Principal struct {
	// ID is the stable identity of the caller, typically the JWT "sub"
	// claim or a provider username.
	ID string `json:"principal"`

	// Attributes maps a category (roles, teams, projects, namespaces) to
	// the values the provider asserted for the caller.
	Attributes map[string][]string `json:"attributes,omitempty"`

	// Scopes holds OAuth2-style capability strings, parsed from a
	// space-delimited "scope" claim.
	Scopes map[string]struct{} `json:"-"`

	// Claims preserves the raw token claims for diagnostics.
	Claims map[string]interface{} `json:"-"`
}

// HasAttribute reports whether the principal carries value in the given
// attribute category.
func (p *Principal) HasAttribute(category, value string) bool {
	if p == nil {
		return false
	}
	for _, v := range p.Attributes[category] {
		if v == value {
			return true
		}
	}
	return false
}

// HasScope reports whether the principal was granted the named scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Scopes[scope]
	return ok
}

// ScopeList returns the principal's scopes in sorted order.
func (p *Principal) ScopeList() []string {
	if p == nil || len(p.Scopes) == 0 {
		return nil
	}
	scopes := make([]string, 0, len(p.Scopes))
	for s := range p.Scopes {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// RequestMeta carries the parts of the inbound request that validators are
// allowed to see. The custom provider forwards them verbatim to its
// delegate endpoint.
type RequestMeta struct {
	Path    string
	Headers map[string]string
	Params  url.Values
}

// Validator verifies a bearer credential and produces a Principal.
// Implementations must translate every internal failure into an *Error:
// invalid credentials become ErrorUnauthenticated, provider outages become
// ErrorUpstreamUnavailable. Exactly one Validator is selected from
// configuration at startup and shared for the process lifetime, so
// implementations must be safe for concurrent use.
type Validator interface {
	Validate(ctx context.Context, token string, req RequestMeta) (*Principal, error)
}
