package server

import (
	"net/http"

	"github.com/go-chi/chi"

	"github.com/authgate/authgate/pkg/policy"
)

// Endpoint is the routing layer's declaration of what an operation
// touches. The routing layer owns this mapping; the authorizer only
// consumes it.
type Endpoint struct {
	Method  string
	Pattern string

	// Resource and Action describe the access-controlled operation the
	// endpoint performs. An empty Resource skips resource policy for
	// the endpoint (e.g. health and auth info routes).
	Resource policy.ResourceType
	Action   policy.Action

	// RequiredScope gates the endpoint on an OAuth2 scope, independent
	// of resource policy. Empty means no scope requirement.
	RequiredScope string

	// Public endpoints bypass authentication entirely.
	Public bool
}

// ResourceRef derives the concrete resource reference for a request,
// using the route's "id" parameter when present and the wildcard
// otherwise (collection operations).
func (e Endpoint) ResourceRef(r *http.Request) policy.ResourceRef {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = policy.Wildcard
	}
	return policy.ResourceRef{Type: e.Resource, ID: id}
}
