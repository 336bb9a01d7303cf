package authorize

import (
	"fmt"
	"strings"
)

// DefaultClaimsMapping maps well-known token claims to attribute
// categories. Several claims may feed the same category; values
// accumulate in order.
func DefaultClaimsMapping() map[string]string {
	return map[string]string{
		"sub":       AttributeRoles,
		"username":  AttributeRoles,
		"groups":    AttributeTeams,
		"team":      AttributeTeams,
		"project":   AttributeProjects,
		"tenant":    AttributeNamespaces,
		"namespace": AttributeNamespaces,
	}
}

// AttributesFromClaims normalizes provider-specific claims into the
// canonical attribute map using the given claim-to-category mapping.
// String claims contribute one value; list claims contribute each element.
// Claims absent from the token are skipped.
func AttributesFromClaims(claims map[string]interface{}, mapping map[string]string) map[string][]string {
	attributes := make(map[string][]string)
	for claim, category := range mapping {
		raw, ok := claims[claim]
		if !ok {
			continue
		}
		for _, v := range claimValues(raw) {
			if v == "" {
				continue
			}
			attributes[category] = append(attributes[category], v)
		}
	}
	if len(attributes) == 0 {
		return nil
	}
	return attributes
}

// ScopesFromClaim parses the space-delimited OAuth2 "scope" claim into a
// set. A missing or empty claim yields an empty set, not an error.
func ScopesFromClaim(claims map[string]interface{}) map[string]struct{} {
	scopes := make(map[string]struct{})
	raw, ok := claims["scope"]
	if !ok {
		return scopes
	}
	s, ok := raw.(string)
	if !ok {
		return scopes
	}
	for _, scope := range strings.Fields(s) {
		scopes[scope] = struct{}{}
	}
	return scopes
}

func claimValues(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		values := make([]string, 0, len(v))
		for _, item := range v {
			values = append(values, fmt.Sprintf("%v", item))
		}
		return values
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}
