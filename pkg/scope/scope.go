// Package scope gates endpoints on OAuth2-style scopes, independently of
// and prior to resource-level policy.
package scope

import (
	"fmt"

	"github.com/authgate/authgate/pkg/authorize"
)

// Gate checks an endpoint's declared required scope against the
// principal's scope set.
type Gate struct {
	// authEnabled mirrors the server-wide auth switch. With auth
	// disabled there are no scopes to check and the gate is permissive;
	// this is a documented escape hatch, not an oversight.
	authEnabled bool
}

func NewGate(authEnabled bool) *Gate {
	return &Gate{authEnabled: authEnabled}
}

// Check returns nil when the request may proceed. Endpoints with no
// required scope always pass; with auth enabled, a required scope absent
// from the principal denies with Forbidden.
func (g *Gate) Check(p *authorize.Principal, requiredScope string) error {
	if requiredScope == "" {
		return nil
	}
	if !g.authEnabled {
		return nil
	}
	if !p.HasScope(requiredScope) {
		return authorize.NewForbidden(fmt.Sprintf("missing required scope %q", requiredScope))
	}
	return nil
}
